package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/indubia/notary/backend/internal/auth"
	"github.com/indubia/notary/backend/internal/documents"
	"github.com/indubia/notary/backend/internal/fingerprint"
	"github.com/indubia/notary/backend/internal/notify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	claimsContextKey = "notary_claims"
	userContextKey   = "notary_user"

	scopeUser = "user"

	maxUploadBytes = 1 << 30
)

var (
	errMissingVerifier      = errors.New("token verifier dependency required")
	errMissingUserResolver  = errors.New("user resolver dependency required")
	errMissingStore         = errors.New("document store dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenVerifier validates identity-provider access tokens.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (auth.Claims, error)
}

// UserResolver maps an access token to the local user row.
type UserResolver interface {
	ResolveUser(ctx context.Context, accessToken string) (documents.User, error)
}

// Dependencies bundles everything the HTTP layer needs.
type Dependencies struct {
	Verifier          TokenVerifier
	Users             UserResolver
	Store             *documents.Store
	Fingerprints      *fingerprint.Service
	Notifier          notify.PartyNotifier
	Metrics           prometheus.Gatherer
	HashByteWidth     int
	ExplorerTxBaseURL string
	Logger            *zap.Logger
}

// NewHTTPHandler wires the notary API routes.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Verifier == nil {
		return nil, errMissingVerifier
	}
	if deps.Users == nil {
		return nil, errMissingUserResolver
	}
	if deps.Store == nil {
		return nil, errMissingStore
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	router.MaxMultipartMemory = maxUploadBytes

	handler := &httpHandler{
		verifier:          deps.Verifier,
		users:             deps.Users,
		store:             deps.Store,
		fingerprints:      deps.Fingerprints,
		notifier:          notifier,
		hashByteWidth:     deps.HashByteWidth,
		explorerTxBaseURL: strings.TrimRight(deps.ExplorerTxBaseURL, "/"),
		logger:            logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Metrics, promhttp.HandlerOpts{})))
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/documents", handler.handleCreateDocuments)
	protected.GET("/documents", handler.handleListDocuments)
	protected.POST("/documents/:id/verify", handler.handleVerifyDocument)
	protected.POST("/documents/:id/approve", handler.handleApproveDocument)
	protected.POST("/documents/:id/cancel", handler.handleCancelDocument)
	protected.DELETE("/documents/:id", handler.handleRemoveDocument)
	protected.GET("/documents/:id/link", handler.handleBlockchainLink)
	protected.POST("/notifications", handler.handleNotifyParties)
	protected.POST("/folders", handler.handleCreateFolder)
	protected.GET("/folders/:id", handler.handleGetFolder)
	protected.GET("/user/profile", handler.handleProfile)
	if handler.fingerprints != nil {
		protected.POST("/fingerprints", handler.handleCreateFingerprint)
		protected.POST("/signatures", handler.handleSealSignature)
	}

	return router, nil
}

type httpHandler struct {
	verifier          TokenVerifier
	users             UserResolver
	store             *documents.Store
	fingerprints      *fingerprint.Service
	notifier          notify.PartyNotifier
	hashByteWidth     int
	explorerTxBaseURL string
	logger            *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}

	claims, err := h.verifier.Verify(c.Request.Context(), token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if !claims.HasScope(scopeUser) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient_scope"})
		return
	}

	c.Set(claimsContextKey, claims)
	c.Next()
}

// resolveCaller maps the validated token to the local user row.
func (h *httpHandler) resolveCaller(c *gin.Context) (documents.User, bool) {
	value, exists := c.Get(claimsContextKey)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return documents.User{}, false
	}
	claims, ok := value.(auth.Claims)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return documents.User{}, false
	}

	user, err := h.users.ResolveUser(c.Request.Context(), claims.RawToken)
	if err != nil {
		h.logger.Error("user resolution failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "user_resolution_failed"})
		return documents.User{}, false
	}
	return user, true
}

// loadOwnedDocument fetches a document and enforces caller ownership.
func (h *httpHandler) loadOwnedDocument(c *gin.Context, user documents.User) (documents.Document, bool) {
	id, err := documents.NewDocumentID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_document_id"})
		return documents.Document{}, false
	}

	doc, err := h.store.GetDocument(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, documents.ErrDocumentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "document_not_found"})
		} else {
			h.logger.Error("document lookup failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "document_lookup_failed"})
		}
		return documents.Document{}, false
	}

	if doc.OwnerID != user.ID {
		h.logger.Warn("document access denied",
			zap.String("document_id", doc.ID),
			zap.String("user_id", user.ID))
		c.JSON(http.StatusForbidden, gin.H{"error": "not_document_owner"})
		return documents.Document{}, false
	}
	return doc, true
}

type documentResponse struct {
	ID               string     `json:"id"`
	ContentHash      string     `json:"content_hash"`
	OriginalFileName string     `json:"original_file_name"`
	OriginalFileSize int64      `json:"original_file_size"`
	Description      string     `json:"description"`
	IngestedAt       time.Time  `json:"ingested_at"`
	ApprovedAt       *time.Time `json:"approved_at,omitempty"`
	TransactionHash  *string    `json:"transaction_hash,omitempty"`
	BlockNumber      *int64     `json:"block_number,omitempty"`
	BlockHash        *string    `json:"block_hash,omitempty"`
	BlockchainAt     *time.Time `json:"blockchain_at,omitempty"`
}

func toDocumentResponse(doc documents.Document) documentResponse {
	return documentResponse{
		ID:               doc.ID,
		ContentHash:      doc.ContentHash,
		OriginalFileName: doc.OriginalFileName,
		OriginalFileSize: doc.OriginalFileSize,
		Description:      doc.Description,
		IngestedAt:       doc.IngestedAt,
		ApprovedAt:       doc.ApprovedAt,
		TransactionHash:  doc.TransactionHash,
		BlockNumber:      doc.BlockNumber,
		BlockHash:        doc.BlockHash,
		BlockchainAt:     doc.BlockchainAt,
	}
}

func (h *httpHandler) handleCreateDocuments(c *gin.Context) {
	user, ok := h.resolveCaller(c)
	if !ok {
		return
	}

	form, err := c.MultipartForm()
	if err != nil || len(form.File["uploadedDocuments"]) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "document file is required"})
		return
	}

	description := c.PostForm("description")
	var parties []notify.Party
	if raw := c.PostForm("parties"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &parties); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_parties"})
			return
		}
	}
	var folderID *string
	if raw := strings.TrimSpace(c.PostForm("folder_id")); raw != "" {
		folderID = &raw
	}

	uploads := make([]documents.NewDocument, 0, len(form.File["uploadedDocuments"]))
	for _, fileHeader := range form.File["uploadedDocuments"] {
		file, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable_upload"})
			return
		}
		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable_upload"})
			return
		}

		uploads = append(uploads, documents.NewDocument{
			ContentHash:      documents.ContentHash(crypto.Keccak256Hash(data).Hex()),
			OriginalFileName: fileHeader.Filename,
			OriginalFileSize: fileHeader.Size,
			Description:      description,
			FolderID:         folderID,
			SignaturesNeeded: len(parties),
		})
	}

	created, err := h.store.CreateDocuments(c.Request.Context(), user.ID, uploads)
	if err != nil {
		if errors.Is(err, documents.ErrFolderNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "folder not found for this document"})
			return
		}
		h.logger.Error("document ingest failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ingest_failed"})
		return
	}

	if len(parties) > 0 {
		for _, doc := range created {
			if _, err := h.notifier.NotifyParties(c.Request.Context(), doc.ContentHash, parties); err != nil {
				h.logger.Warn("party notification failed", zap.Error(err))
			}
		}
	}

	response := make([]documentResponse, 0, len(created))
	for _, doc := range created {
		response = append(response, toDocumentResponse(doc))
	}
	c.JSON(http.StatusOK, gin.H{"documents": response})
}

func (h *httpHandler) handleListDocuments(c *gin.Context) {
	user, ok := h.resolveCaller(c)
	if !ok {
		return
	}

	owned, err := h.store.ListDocumentsByOwner(c.Request.Context(), user.ID)
	if err != nil {
		h.logger.Error("document list failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}

	response := make([]documentResponse, 0, len(owned))
	for _, doc := range owned {
		response = append(response, toDocumentResponse(doc))
	}
	c.JSON(http.StatusOK, gin.H{"documents": response})
}

func (h *httpHandler) handleVerifyDocument(c *gin.Context) {
	user, ok := h.resolveCaller(c)
	if !ok {
		return
	}
	doc, ok := h.loadOwnedDocument(c, user)
	if !ok {
		return
	}

	fileHeader, err := c.FormFile("document")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "document file is required"})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable_upload"})
		return
	}
	data, err := io.ReadAll(file)
	file.Close()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable_upload"})
		return
	}

	candidate := crypto.Keccak256Hash(data).Hex()
	match := strings.EqualFold(candidate, doc.ContentHash)
	h.logger.Debug("document verification",
		zap.String("document_id", doc.ID),
		zap.Bool("match", match))
	c.JSON(http.StatusOK, gin.H{"match": match})
}

func (h *httpHandler) handleApproveDocument(c *gin.Context) {
	user, ok := h.resolveCaller(c)
	if !ok {
		return
	}
	doc, ok := h.loadOwnedDocument(c, user)
	if !ok {
		return
	}

	now := time.Now().UTC()
	if err := h.store.UpdateApproval(c.Request.Context(), documents.DocumentID(doc.ID), &now); err != nil {
		h.logger.Error("document approval failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "approval_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"approved": doc.ID})
}

func (h *httpHandler) handleCancelDocument(c *gin.Context) {
	user, ok := h.resolveCaller(c)
	if !ok {
		return
	}
	doc, ok := h.loadOwnedDocument(c, user)
	if !ok {
		return
	}

	if err := h.store.UpdateApproval(c.Request.Context(), documents.DocumentID(doc.ID), nil); err != nil {
		if errors.Is(err, documents.ErrDocumentAnchored) {
			c.JSON(http.StatusConflict, gin.H{"error": "document_already_anchored"})
			return
		}
		h.logger.Error("document cancel failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cancel_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": doc.ID})
}

func (h *httpHandler) handleRemoveDocument(c *gin.Context) {
	user, ok := h.resolveCaller(c)
	if !ok {
		return
	}
	doc, ok := h.loadOwnedDocument(c, user)
	if !ok {
		return
	}

	if err := h.store.DeleteDocument(c.Request.Context(), documents.DocumentID(doc.ID)); err != nil {
		if errors.Is(err, documents.ErrDocumentAnchored) {
			c.JSON(http.StatusConflict, gin.H{"error": "document_already_anchored"})
			return
		}
		h.logger.Error("document removal failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "removal_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": doc.ID})
}

func (h *httpHandler) handleBlockchainLink(c *gin.Context) {
	user, ok := h.resolveCaller(c)
	if !ok {
		return
	}
	doc, ok := h.loadOwnedDocument(c, user)
	if !ok {
		return
	}

	if doc.TransactionHash == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "document_not_anchored"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"link": h.explorerTxBaseURL + "/" + *doc.TransactionHash})
}

type notifyRequestPayload struct {
	DocumentHash string         `json:"document_hash"`
	Parties      []notify.Party `json:"parties"`
}

func (h *httpHandler) handleNotifyParties(c *gin.Context) {
	var request notifyRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Parties) < 2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least two parties are required"})
		return
	}

	parties, err := h.notifier.NotifyParties(c.Request.Context(), request.DocumentHash, request.Parties)
	if err != nil {
		h.logger.Error("party notification failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "notification_failed"})
		return
	}

	for _, party := range parties {
		if !party.Sent {
			c.JSON(http.StatusInternalServerError, gin.H{"parties": parties})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"parties": parties})
}

type createFolderPayload struct {
	Name string `json:"name"`
}

func (h *httpHandler) handleCreateFolder(c *gin.Context) {
	user, ok := h.resolveCaller(c)
	if !ok {
		return
	}

	var request createFolderPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "folder name is required"})
		return
	}

	folder, err := h.store.CreateFolder(c.Request.Context(), user.ID, strings.TrimSpace(request.Name))
	if err != nil {
		h.logger.Error("folder creation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "folder_creation_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": folder.ID, "name": folder.Name})
}

func (h *httpHandler) handleGetFolder(c *gin.Context) {
	user, ok := h.resolveCaller(c)
	if !ok {
		return
	}

	folder, err := h.store.GetFolder(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, documents.ErrFolderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "folder_not_found"})
			return
		}
		h.logger.Error("folder lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "folder_lookup_failed"})
		return
	}
	if folder.OwnerID != user.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "not_folder_owner"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": folder.ID, "name": folder.Name})
}

func (h *httpHandler) handleProfile(c *gin.Context) {
	user, ok := h.resolveCaller(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"email":      user.Email,
		"first_name": user.FirstName,
		"last_name":  user.LastName,
	})
}

func (h *httpHandler) handleCreateFingerprint(c *gin.Context) {
	token, err := h.fingerprints.CreateToken(c.Request.Context())
	if err != nil {
		h.logger.Error("fingerprint creation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "fingerprint_failed"})
		return
	}
	c.JSON(http.StatusOK, token)
}

type sealSignaturePayload struct {
	FullName     string `json:"full_name"`
	LastFourSSN  string `json:"last_four_ssn"`
	BirthDate    string `json:"birth_date"`
	ContractHash string `json:"contract_hash"`
}

func (h *httpHandler) handleSealSignature(c *gin.Context) {
	var request sealSignaturePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	sealed, err := h.fingerprints.SealEnvelope(fingerprint.Envelope{
		ClientIP:     c.ClientIP(),
		UserAgent:    c.Request.UserAgent(),
		Timestamp:    time.Now().UTC(),
		FullName:     request.FullName,
		LastFourSSN:  request.LastFourSSN,
		BirthDate:    request.BirthDate,
		ContractHash: request.ContractHash,
	})
	if err != nil {
		h.logger.Error("signature sealing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signature_failed"})
		return
	}
	c.JSON(http.StatusOK, sealed)
}
