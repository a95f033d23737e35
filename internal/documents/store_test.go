package documents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type staticIDProvider struct {
	ids  []string
	next int
}

func (p *staticIDProvider) NewID() (string, error) {
	if p.next >= len(p.ids) {
		return "", errors.New("id pool exhausted")
	}
	id := p.ids[p.next]
	p.next++
	return id, nil
}

func testClock() time.Time {
	return time.Unix(1700000600, 0).UTC()
}

func newTestStore(t *testing.T, ids []string) (*Store, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:notary_test_%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Document{}, &User{}, &Folder{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	store, err := NewStore(StoreConfig{
		Database:   db,
		Clock:      testClock,
		IDProvider: &staticIDProvider{ids: ids},
	})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store, db
}

func seedDocument(t *testing.T, db *gorm.DB, doc Document) {
	t.Helper()
	if doc.IngestedAt.IsZero() {
		doc.IngestedAt = testClock()
	}
	if err := db.Create(&doc).Error; err != nil {
		t.Fatalf("failed to seed document %s: %v", doc.ID, err)
	}
}

func hashOf(digit byte) string {
	return "0x" + strings.Repeat(string(digit), 64)
}

func approvedAt(offsetSeconds int) *time.Time {
	at := testClock().Add(time.Duration(offsetSeconds) * time.Second)
	return &at
}

func TestFindReadyDocumentsSelectsApprovedUnanchored(t *testing.T) {
	store, db := newTestStore(t, nil)
	ctx := context.Background()

	txHash := hashOf('f')
	seedDocument(t, db, Document{ID: "ready-late", ContentHash: hashOf('a'), OwnerID: "owner", ApprovedAt: approvedAt(60)})
	seedDocument(t, db, Document{ID: "ready-early", ContentHash: hashOf('b'), OwnerID: "owner", ApprovedAt: approvedAt(-60)})
	seedDocument(t, db, Document{ID: "unapproved", ContentHash: hashOf('c'), OwnerID: "owner"})
	seedDocument(t, db, Document{ID: "anchored", ContentHash: hashOf('d'), OwnerID: "owner", ApprovedAt: approvedAt(0), TransactionHash: &txHash})

	ready, err := store.FindReadyDocuments(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ready) != 2 {
		t.Fatalf("expected 2 ready documents, got %d", len(ready))
	}
	if ready[0].ID != "ready-early" || ready[1].ID != "ready-late" {
		t.Fatalf("expected oldest approval first, got %s then %s", ready[0].ID, ready[1].ID)
	}
}

func TestFindPendingDocumentsSelectsAnchoredUnconfirmed(t *testing.T) {
	store, db := newTestStore(t, nil)
	ctx := context.Background()

	txHash := hashOf('f')
	blockHash := hashOf('e')
	seedDocument(t, db, Document{ID: "pending", ContentHash: hashOf('a'), OwnerID: "owner", ApprovedAt: approvedAt(0), TransactionHash: &txHash})
	seedDocument(t, db, Document{ID: "confirmed", ContentHash: hashOf('b'), OwnerID: "owner", ApprovedAt: approvedAt(0), TransactionHash: &txHash, BlockHash: &blockHash})
	seedDocument(t, db, Document{ID: "unanchored", ContentHash: hashOf('c'), OwnerID: "owner", ApprovedAt: approvedAt(0)})

	pending, err := store.FindPendingDocuments(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "pending" {
		t.Fatalf("expected only the pending document, got %v", pending)
	}
}

func TestCreateDocumentsIngestsApproved(t *testing.T) {
	store, _ := newTestStore(t, []string{"doc-1", "doc-2"})
	ctx := context.Background()

	hashA, err := NewContentHash(hashOf('a'), 32)
	if err != nil {
		t.Fatalf("unexpected hash error: %v", err)
	}
	hashB, err := NewContentHash(hashOf('b'), 32)
	if err != nil {
		t.Fatalf("unexpected hash error: %v", err)
	}

	created, err := store.CreateDocuments(ctx, "owner", []NewDocument{
		{ContentHash: hashA, OriginalFileName: "contract.pdf", OriginalFileSize: 1024},
		{ContentHash: hashB, OriginalFileName: "deed.pdf", OriginalFileSize: 2048},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("expected 2 created documents, got %d", len(created))
	}
	for _, doc := range created {
		if doc.ApprovedAt == nil {
			t.Fatalf("expected document %s created already approved", doc.ID)
		}
		if !doc.IsReady() {
			t.Fatalf("expected document %s ready for anchoring", doc.ID)
		}
	}

	ready, err := store.FindReadyDocuments(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ready) != 2 {
		t.Fatalf("expected both ingested documents ready, got %d", len(ready))
	}
}

func TestCreateDocumentsRejectsUnknownFolder(t *testing.T) {
	store, _ := newTestStore(t, []string{"doc-1"})
	ctx := context.Background()

	hash, err := NewContentHash(hashOf('a'), 32)
	if err != nil {
		t.Fatalf("unexpected hash error: %v", err)
	}
	missingFolder := "no-such-folder"

	_, err = store.CreateDocuments(ctx, "owner", []NewDocument{
		{ContentHash: hash, OriginalFileName: "contract.pdf", FolderID: &missingFolder},
	})
	if !errors.Is(err, ErrFolderNotFound) {
		t.Fatalf("expected ErrFolderNotFound, got %v", err)
	}
}

func TestRecordAnchorStampsAllDocuments(t *testing.T) {
	store, db := newTestStore(t, nil)
	ctx := context.Background()

	seedDocument(t, db, Document{ID: "doc-1", ContentHash: hashOf('a'), OwnerID: "owner", ApprovedAt: approvedAt(0)})
	seedDocument(t, db, Document{ID: "doc-2", ContentHash: hashOf('b'), OwnerID: "owner", ApprovedAt: approvedAt(0)})

	txHash := hashOf('c')
	at := testClock()
	err := store.RecordAnchor(ctx, []DocumentID{"doc-1", "doc-2"}, txHash, nil, nil, at)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var stored []Document
	if err := db.Order("id ASC").Find(&stored).Error; err != nil {
		t.Fatalf("failed to load documents: %v", err)
	}
	for _, doc := range stored {
		if doc.TransactionHash == nil || *doc.TransactionHash != txHash {
			t.Fatalf("document %s missing transaction hash", doc.ID)
		}
		if doc.BlockHash != nil {
			t.Fatalf("document %s should have no block placement yet", doc.ID)
		}
		if !doc.IsPending() {
			t.Fatalf("document %s should be pending confirmation", doc.ID)
		}
	}
}

func TestRecordAnchorRollsBackPartialBatch(t *testing.T) {
	store, db := newTestStore(t, nil)
	ctx := context.Background()

	alreadyAnchored := hashOf('f')
	seedDocument(t, db, Document{ID: "doc-1", ContentHash: hashOf('a'), OwnerID: "owner", ApprovedAt: approvedAt(0)})
	seedDocument(t, db, Document{ID: "doc-2", ContentHash: hashOf('b'), OwnerID: "owner", ApprovedAt: approvedAt(0), TransactionHash: &alreadyAnchored})

	err := store.RecordAnchor(ctx, []DocumentID{"doc-1", "doc-2"}, hashOf('c'), nil, nil, testClock())
	if !errors.Is(err, ErrDocumentNotEligible) {
		t.Fatalf("expected ErrDocumentNotEligible, got %v", err)
	}

	var untouched Document
	if err := db.Where("id = ?", "doc-1").Take(&untouched).Error; err != nil {
		t.Fatalf("failed to load doc-1: %v", err)
	}
	if untouched.TransactionHash != nil {
		t.Fatalf("expected rollback to leave doc-1 unanchored, got %v", *untouched.TransactionHash)
	}
}

func TestRecordConfirmationStampsBlockPlacement(t *testing.T) {
	store, db := newTestStore(t, nil)
	ctx := context.Background()

	txHash := hashOf('c')
	seedDocument(t, db, Document{ID: "doc-1", ContentHash: hashOf('a'), OwnerID: "owner", ApprovedAt: approvedAt(0), TransactionHash: &txHash})
	seedDocument(t, db, Document{ID: "doc-2", ContentHash: hashOf('b'), OwnerID: "owner", ApprovedAt: approvedAt(0), TransactionHash: &txHash})

	blockHash := hashOf('d')
	err := store.RecordConfirmation(ctx, []DocumentID{"doc-1", "doc-2"}, 12345, blockHash, testClock())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var stored []Document
	if err := db.Order("id ASC").Find(&stored).Error; err != nil {
		t.Fatalf("failed to load documents: %v", err)
	}
	for _, doc := range stored {
		if !doc.IsConfirmed() {
			t.Fatalf("document %s should be confirmed", doc.ID)
		}
		if doc.BlockNumber == nil || *doc.BlockNumber != 12345 {
			t.Fatalf("document %s missing block number", doc.ID)
		}
	}
}

func TestConfirmedDocumentsLeaveThePendingSet(t *testing.T) {
	store, db := newTestStore(t, nil)
	ctx := context.Background()

	txHash := hashOf('c')
	seedDocument(t, db, Document{ID: "doc-1", ContentHash: hashOf('a'), OwnerID: "owner", ApprovedAt: approvedAt(0), TransactionHash: &txHash})

	if err := store.RecordConfirmation(ctx, []DocumentID{"doc-1"}, 12345, hashOf('d'), testClock()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pending, err := store.FindPendingDocuments(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected confirmed document out of the pending set, got %d", len(pending))
	}
}

func TestRecordConfirmationRejectsUnanchoredDocument(t *testing.T) {
	store, db := newTestStore(t, nil)
	ctx := context.Background()

	txHash := hashOf('c')
	seedDocument(t, db, Document{ID: "doc-1", ContentHash: hashOf('a'), OwnerID: "owner", ApprovedAt: approvedAt(0), TransactionHash: &txHash})
	seedDocument(t, db, Document{ID: "doc-2", ContentHash: hashOf('b'), OwnerID: "owner", ApprovedAt: approvedAt(0)})

	err := store.RecordConfirmation(ctx, []DocumentID{"doc-1", "doc-2"}, 12345, hashOf('d'), testClock())
	if !errors.Is(err, ErrDocumentNotEligible) {
		t.Fatalf("expected ErrDocumentNotEligible, got %v", err)
	}

	var untouched Document
	if err := db.Where("id = ?", "doc-1").Take(&untouched).Error; err != nil {
		t.Fatalf("failed to load doc-1: %v", err)
	}
	if untouched.BlockHash != nil {
		t.Fatalf("expected rollback to leave doc-1 unconfirmed")
	}
}

func TestUpdateApprovalCancelRejectedOnceAnchored(t *testing.T) {
	store, db := newTestStore(t, nil)
	ctx := context.Background()

	txHash := hashOf('c')
	seedDocument(t, db, Document{ID: "doc-1", ContentHash: hashOf('a'), OwnerID: "owner", ApprovedAt: approvedAt(0), TransactionHash: &txHash})

	err := store.UpdateApproval(ctx, "doc-1", nil)
	if !errors.Is(err, ErrDocumentAnchored) {
		t.Fatalf("expected ErrDocumentAnchored, got %v", err)
	}

	var stored Document
	if err := db.Where("id = ?", "doc-1").Take(&stored).Error; err != nil {
		t.Fatalf("failed to load doc-1: %v", err)
	}
	if stored.ApprovedAt == nil {
		t.Fatalf("expected approval to survive rejected cancel")
	}
}

func TestUpdateApprovalCancelClearsApproval(t *testing.T) {
	store, db := newTestStore(t, nil)
	ctx := context.Background()

	seedDocument(t, db, Document{ID: "doc-1", ContentHash: hashOf('a'), OwnerID: "owner", ApprovedAt: approvedAt(0)})

	if err := store.UpdateApproval(ctx, "doc-1", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ready, err := store.FindReadyDocuments(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ready) != 0 {
		t.Fatalf("expected cancelled document excluded from ready set, got %d", len(ready))
	}
}

func TestUpdateApprovalMissingDocument(t *testing.T) {
	store, _ := newTestStore(t, nil)

	err := store.UpdateApproval(context.Background(), "absent", approvedAt(0))
	if !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestDeleteDocumentRejectedOnceAnchored(t *testing.T) {
	store, db := newTestStore(t, nil)
	ctx := context.Background()

	txHash := hashOf('c')
	seedDocument(t, db, Document{ID: "doc-1", ContentHash: hashOf('a'), OwnerID: "owner", ApprovedAt: approvedAt(0), TransactionHash: &txHash})

	err := store.DeleteDocument(ctx, "doc-1")
	if !errors.Is(err, ErrDocumentAnchored) {
		t.Fatalf("expected ErrDocumentAnchored, got %v", err)
	}

	var count int64
	if err := db.Model(&Document{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count documents: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected anchored document to survive delete, count %d", count)
	}
}

func TestDeleteDocumentRemovesUnanchored(t *testing.T) {
	store, db := newTestStore(t, nil)
	ctx := context.Background()

	seedDocument(t, db, Document{ID: "doc-1", ContentHash: hashOf('a'), OwnerID: "owner", ApprovedAt: approvedAt(0)})

	if err := store.DeleteDocument(ctx, "doc-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := store.GetDocument(ctx, "doc-1")
	if !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound after delete, got %v", err)
	}
}

func TestCreateFolderAndLookup(t *testing.T) {
	store, _ := newTestStore(t, []string{"folder-1"})
	ctx := context.Background()

	created, err := store.CreateFolder(ctx, "owner", "Contracts")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.ID != "folder-1" {
		t.Fatalf("expected generated id folder-1, got %s", created.ID)
	}

	found, err := store.GetFolder(ctx, "folder-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found.Name != "Contracts" || found.OwnerID != "owner" {
		t.Fatalf("unexpected folder row: %+v", found)
	}
}

func TestListDocumentsByOwnerScopesToOwner(t *testing.T) {
	store, db := newTestStore(t, nil)
	ctx := context.Background()

	seedDocument(t, db, Document{ID: "mine", ContentHash: hashOf('a'), OwnerID: "owner-a", ApprovedAt: approvedAt(0)})
	seedDocument(t, db, Document{ID: "theirs", ContentHash: hashOf('b'), OwnerID: "owner-b", ApprovedAt: approvedAt(0)})

	mine, err := store.ListDocumentsByOwner(ctx, "owner-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mine) != 1 || mine[0].ID != "mine" {
		t.Fatalf("expected only owner-a documents, got %v", mine)
	}
}
