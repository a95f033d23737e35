package documents

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrInvalidDocumentID indicates that a document identifier is empty or exceeds storage bounds.
	ErrInvalidDocumentID = errors.New("documents: invalid document id")
	// ErrInvalidContentHash indicates that a content hash is not a well-formed 0x hex string.
	ErrInvalidContentHash = errors.New("documents: invalid content hash")
)

const maxIdentifierLength = 190

// DocumentID represents a validated document identifier.
type DocumentID string

// NewDocumentID validates raw input and returns a DocumentID.
func NewDocumentID(rawInput string) (DocumentID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDocumentID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidDocumentID, maxIdentifierLength)
	}
	return DocumentID(trimmed), nil
}

// String returns the underlying string identifier.
func (id DocumentID) String() string {
	return string(id)
}

// ContentHash represents a validated 0x-prefixed content hash of a fixed byte width.
type ContentHash string

// NewContentHash validates raw input against the expected byte width.
func NewContentHash(rawInput string, byteWidth int) (ContentHash, error) {
	trimmed := strings.TrimSpace(rawInput)
	if !strings.HasPrefix(trimmed, "0x") {
		return "", fmt.Errorf("%w: missing 0x prefix", ErrInvalidContentHash)
	}
	digits := trimmed[2:]
	if len(digits) != byteWidth*2 {
		return "", fmt.Errorf("%w: expected %d hex digits, got %d", ErrInvalidContentHash, byteWidth*2, len(digits))
	}
	for _, r := range digits {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') && (r < 'A' || r > 'F') {
			return "", fmt.Errorf("%w: non-hex character %q", ErrInvalidContentHash, r)
		}
	}
	return ContentHash(strings.ToLower(trimmed)), nil
}

// ContentHashFromBytes builds a ContentHash from raw digest bytes.
func ContentHashFromBytes(digest []byte) ContentHash {
	return ContentHash(common.BytesToHash(digest).Hex())
}

// String returns the 0x-prefixed hex representation.
func (h ContentHash) String() string {
	return string(h)
}

// Stripped returns the hex digits without the 0x prefix, as used in anchoring payloads.
func (h ContentHash) Stripped() string {
	return strings.TrimPrefix(string(h), "0x")
}

// Document models a notarized file. Blockchain fields are nullable and filled
// in two stages: transaction linkage when the document is anchored, block
// placement when the containing transaction is confirmed.
type Document struct {
	ID                 string     `gorm:"column:id;primaryKey;size:190;not null"`
	ContentHash        string     `gorm:"column:content_hash;size:66;not null;index"`
	OriginalFileName   string     `gorm:"column:original_file_name;size:512;not null"`
	OriginalFileSize   int64      `gorm:"column:original_file_size;not null"`
	Description        string     `gorm:"column:description;type:text;not null;default:''"`
	OwnerID            string     `gorm:"column:owner_id;size:190;not null;index"`
	FolderID           *string    `gorm:"column:folder_id;size:190"`
	IngestedAt         time.Time  `gorm:"column:ingestion_date;not null"`
	ApprovedAt         *time.Time `gorm:"column:approval_date"`
	SignaturesNeeded   int        `gorm:"column:signatures_needed;not null;default:0"`
	SignaturesObtained int        `gorm:"column:signatures_obtained;not null;default:0"`
	TransactionHash    *string    `gorm:"column:transaction_hash;size:66;index"`
	BlockNumber        *int64     `gorm:"column:block_number"`
	BlockHash          *string    `gorm:"column:block_hash;size:66"`
	BlockchainAt       *time.Time `gorm:"column:blockchain_date"`
}

// TableName provides the explicit table binding for GORM.
func (Document) TableName() string {
	return "documents"
}

// IsReady reports whether the document is approved but not yet anchored.
func (d Document) IsReady() bool {
	return d.ApprovedAt != nil && d.TransactionHash == nil
}

// IsPending reports whether the document is anchored but not yet confirmed.
func (d Document) IsPending() bool {
	return d.TransactionHash != nil && d.BlockHash == nil
}

// IsConfirmed reports whether the containing transaction has block placement.
func (d Document) IsConfirmed() bool {
	return d.BlockHash != nil
}

// User is the local row backing document ownership, keyed by the identity
// provider's email claim.
type User struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null"`
	Email     string    `gorm:"column:email;size:320;not null;uniqueIndex"`
	FirstName string    `gorm:"column:first_name;size:190;not null;default:''"`
	LastName  string    `gorm:"column:last_name;size:190;not null;default:''"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

// Folder groups documents for presentation purposes only. The anchoring engine
// never reads folders; the foreign key exists so a dangling reference surfaces
// as a constraint violation at ingest time.
type Folder struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null"`
	OwnerID   string    `gorm:"column:owner_id;size:190;not null;index"`
	Name      string    `gorm:"column:name;size:320;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Folder) TableName() string {
	return "folders"
}
