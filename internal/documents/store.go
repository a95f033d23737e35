package documents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()

	// ErrDocumentNotFound indicates the requested document does not exist.
	ErrDocumentNotFound = errors.New("documents: document not found")
	// ErrDocumentAnchored indicates a mutation was rejected because the
	// document already belongs to a submitted transaction.
	ErrDocumentAnchored = errors.New("documents: document already anchored")
	// ErrDocumentNotEligible indicates a bulk state transition touched a
	// document that is not in the required state.
	ErrDocumentNotEligible = errors.New("documents: document not eligible for transition")
	// ErrFolderNotFound indicates a document referenced a folder that does not exist.
	ErrFolderNotFound = errors.New("documents: folder not found")
)

const (
	opStoreNew           = "documents.store.new"
	opFindReady          = "documents.find_ready"
	opFindPending        = "documents.find_pending"
	opGetDocument        = "documents.get"
	opCreateDocuments    = "documents.create"
	opUpdateApproval     = "documents.update_approval"
	opDeleteDocument     = "documents.delete"
	opRecordAnchor       = "documents.record_anchor"
	opRecordConfirmation = "documents.record_confirmation"
	opListByOwner        = "documents.list_by_owner"
	opGetFolder          = "documents.get_folder"
	opCreateFolder       = "documents.create_folder"
)

// StoreError carries an operation.reason code alongside the underlying cause.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

func (e *StoreError) Code() string {
	return e.code
}

func newStoreError(operation, reason string, cause error) error {
	return &StoreError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// IDProvider generates identifiers for newly ingested rows.
type IDProvider interface {
	NewID() (string, error)
}

// StoreConfig describes the dependencies for the document store.
type StoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Store is the sole reader and writer of blockchain-related document fields.
type Store struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewStore constructs the document store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opStoreNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newStoreError(opStoreNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Store{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// FindReadyDocuments returns documents approved for anchoring but not yet
// included in any transaction, oldest approval first.
func (s *Store) FindReadyDocuments(ctx context.Context) ([]Document, error) {
	var found []Document
	err := s.db.WithContext(ctx).
		Where("approval_date IS NOT NULL AND transaction_hash IS NULL").
		Order("approval_date ASC").
		Find(&found).Error
	if err != nil {
		return nil, newStoreError(opFindReady, "query_failed", err)
	}
	return found, nil
}

// FindPendingDocuments returns documents included in a transaction that has
// no block placement yet.
func (s *Store) FindPendingDocuments(ctx context.Context) ([]Document, error) {
	var found []Document
	err := s.db.WithContext(ctx).
		Where("transaction_hash IS NOT NULL AND block_hash IS NULL").
		Order("transaction_hash ASC").
		Find(&found).Error
	if err != nil {
		return nil, newStoreError(opFindPending, "query_failed", err)
	}
	return found, nil
}

// GetDocument fetches a single document by identifier.
func (s *Store) GetDocument(ctx context.Context, id DocumentID) (Document, error) {
	var doc Document
	err := s.db.WithContext(ctx).Where("id = ?", id.String()).Take(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Document{}, newStoreError(opGetDocument, "not_found", ErrDocumentNotFound)
	}
	if err != nil {
		return Document{}, newStoreError(opGetDocument, "query_failed", err)
	}
	return doc, nil
}

// NewDocument carries the caller-supplied fields for a single ingested file.
type NewDocument struct {
	ContentHash      ContentHash
	OriginalFileName string
	OriginalFileSize int64
	Description      string
	FolderID         *string
	SignaturesNeeded int
}

// CreateDocuments ingests a set of uploaded files for one owner in a single
// transaction. The documents are created already approved, matching the
// upload flow where ingestion implies consent to anchor.
func (s *Store) CreateDocuments(ctx context.Context, ownerID string, uploads []NewDocument) ([]Document, error) {
	if len(uploads) == 0 {
		return nil, nil
	}

	now := s.clock().UTC()
	created := make([]Document, 0, len(uploads))

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, upload := range uploads {
			if upload.FolderID != nil {
				var folder Folder
				err := tx.Where("id = ?", *upload.FolderID).Take(&folder).Error
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return newStoreError(opCreateDocuments, "folder_not_found", ErrFolderNotFound)
				}
				if err != nil {
					return newStoreError(opCreateDocuments, "folder_lookup_failed", err)
				}
			}

			id, err := s.idProvider.NewID()
			if err != nil {
				return newStoreError(opCreateDocuments, "id_generation_failed", err)
			}

			approvedAt := now
			doc := Document{
				ID:               id,
				ContentHash:      upload.ContentHash.String(),
				OriginalFileName: upload.OriginalFileName,
				OriginalFileSize: upload.OriginalFileSize,
				Description:      upload.Description,
				OwnerID:          ownerID,
				FolderID:         upload.FolderID,
				IngestedAt:       now,
				ApprovedAt:       &approvedAt,
				SignaturesNeeded: upload.SignaturesNeeded,
			}
			if err := tx.Create(&doc).Error; err != nil {
				return newStoreError(opCreateDocuments, "insert_failed", err)
			}
			created = append(created, doc)
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	s.logger.Debug("documents ingested",
		zap.String("owner_id", ownerID),
		zap.Int("count", len(created)))
	return created, nil
}

// UpdateApproval sets or clears the approval timestamp. Clearing (cancel) is
// rejected once the document is anchored: batch membership is immutable.
func (s *Store) UpdateApproval(ctx context.Context, id DocumentID, approvedAt *time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var doc Document
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id.String()).
			Take(&doc).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newStoreError(opUpdateApproval, "not_found", ErrDocumentNotFound)
		}
		if err != nil {
			return newStoreError(opUpdateApproval, "query_failed", err)
		}

		if approvedAt == nil && doc.TransactionHash != nil {
			return newStoreError(opUpdateApproval, "already_anchored", ErrDocumentAnchored)
		}

		if err := tx.Model(&Document{}).
			Where("id = ?", id.String()).
			Update("approval_date", approvedAt).Error; err != nil {
			return newStoreError(opUpdateApproval, "update_failed", err)
		}
		return nil
	})
}

// DeleteDocument removes a document. Anchored documents cannot be removed
// since their hash is already part of a submitted payload.
func (s *Store) DeleteDocument(ctx context.Context, id DocumentID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var doc Document
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id.String()).
			Take(&doc).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newStoreError(opDeleteDocument, "not_found", ErrDocumentNotFound)
		}
		if err != nil {
			return newStoreError(opDeleteDocument, "query_failed", err)
		}

		if doc.TransactionHash != nil {
			return newStoreError(opDeleteDocument, "already_anchored", ErrDocumentAnchored)
		}

		if err := tx.Where("id = ?", id.String()).Delete(&Document{}).Error; err != nil {
			return newStoreError(opDeleteDocument, "delete_failed", err)
		}
		return nil
	})
}

// RecordAnchor writes the submitted transaction hash (and any block fields the
// chain returned synchronously) onto every included document. The write is
// all-or-nothing: if any document is missing or not in the ready state the
// whole batch is rolled back.
func (s *Store) RecordAnchor(ctx context.Context, ids []DocumentID, txHash string, blockNumber *int64, blockHash *string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	raw := make([]string, 0, len(ids))
	for _, id := range ids {
		raw = append(raw, id.String())
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Document{}).
			Where("id IN ?", raw).
			Where("approval_date IS NOT NULL AND transaction_hash IS NULL").
			Updates(map[string]interface{}{
				"transaction_hash": txHash,
				"block_number":     blockNumber,
				"block_hash":       blockHash,
				"blockchain_date":  at,
			})
		if result.Error != nil {
			return newStoreError(opRecordAnchor, "update_failed", result.Error)
		}
		if result.RowsAffected != int64(len(raw)) {
			return newStoreError(opRecordAnchor, "partial_batch",
				fmt.Errorf("%w: matched %d of %d documents", ErrDocumentNotEligible, result.RowsAffected, len(raw)))
		}
		return nil
	})
}

// RecordConfirmation writes block placement onto every document sharing a
// confirmed transaction. Documents must already carry a transaction hash; the
// update is atomic per hash-group.
func (s *Store) RecordConfirmation(ctx context.Context, ids []DocumentID, blockNumber int64, blockHash string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	raw := make([]string, 0, len(ids))
	for _, id := range ids {
		raw = append(raw, id.String())
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Document{}).
			Where("id IN ?", raw).
			Where("transaction_hash IS NOT NULL").
			Updates(map[string]interface{}{
				"block_number":    blockNumber,
				"block_hash":      blockHash,
				"blockchain_date": at,
			})
		if result.Error != nil {
			return newStoreError(opRecordConfirmation, "update_failed", result.Error)
		}
		if result.RowsAffected != int64(len(raw)) {
			return newStoreError(opRecordConfirmation, "partial_group",
				fmt.Errorf("%w: matched %d of %d documents", ErrDocumentNotEligible, result.RowsAffected, len(raw)))
		}
		return nil
	})
}

// ListDocumentsByOwner returns all documents owned by the given user, oldest first.
func (s *Store) ListDocumentsByOwner(ctx context.Context, ownerID string) ([]Document, error) {
	var found []Document
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("ingestion_date ASC").
		Find(&found).Error
	if err != nil {
		return nil, newStoreError(opListByOwner, "query_failed", err)
	}
	return found, nil
}

// GetFolder fetches a folder by identifier.
func (s *Store) GetFolder(ctx context.Context, id string) (Folder, error) {
	var folder Folder
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&folder).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Folder{}, newStoreError(opGetFolder, "not_found", ErrFolderNotFound)
	}
	if err != nil {
		return Folder{}, newStoreError(opGetFolder, "query_failed", err)
	}
	return folder, nil
}

// CreateFolder creates a folder for the given owner.
func (s *Store) CreateFolder(ctx context.Context, ownerID, name string) (Folder, error) {
	id, err := s.idProvider.NewID()
	if err != nil {
		return Folder{}, newStoreError(opCreateFolder, "id_generation_failed", err)
	}
	folder := Folder{ID: id, OwnerID: ownerID, Name: name}
	if err := s.db.WithContext(ctx).Create(&folder).Error; err != nil {
		return Folder{}, newStoreError(opCreateFolder, "insert_failed", err)
	}
	return folder, nil
}
