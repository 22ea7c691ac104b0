package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/foodior/apiserver/internal/auth"
	"github.com/foodior/apiserver/internal/services"
	"github.com/foodior/apiserver/internal/storage"
	"github.com/foodior/apiserver/internal/store"
)

const (
	maxMultipartMemory = 32 << 20
	// formOverhead is the body allowance on top of the upload limit for the
	// text fields and multipart framing.
	formOverhead = 1 << 20
)

var (
	errFileTooLarge = errors.New("uploaded file too large")
	errBodyTooLarge = errors.New("request body too large")
)

type contextKey string

const contextIdentityKey contextKey = "identity"

func withIdentity(ctx context.Context, identity auth.Identity) context.Context {
	return context.WithValue(ctx, contextIdentityKey, identity)
}

func identityFromContext(ctx context.Context) (auth.Identity, bool) {
	identity, ok := ctx.Value(contextIdentityKey).(auth.Identity)
	if !ok || identity.UserID.IsZero() {
		return auth.Identity{}, false
	}
	return identity, true
}

// MessageResponse is the payload of plain status replies.
type MessageResponse struct {
	Message string `json:"message"`
}

// FieldErrorsResponse carries field-level validation messages.
type FieldErrorsResponse struct {
	Errors map[string]string `json:"errors"`
}

// DataResponse wraps a read result.
type DataResponse struct {
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, MessageResponse{Message: message})
}

func writeFieldErrors(w http.ResponseWriter, status int, fields map[string]string) {
	writeJSON(w, status, FieldErrorsResponse{Errors: fields})
}

// writeServiceError maps service and store errors onto HTTP responses.
// notFound is the message used for store.ErrNotFound.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error, notFound string) {
	var validation *services.ValidationError
	var upload *services.UploadError

	switch {
	case errors.As(err, &validation):
		status := http.StatusBadRequest
		if validation.Conflict {
			status = http.StatusConflict
		}
		writeFieldErrors(w, status, validation.Fields)
	case errors.As(err, &upload):
		if upload.HostFailure() {
			logger.Error("media host failure", "request_id", middleware.GetReqID(r.Context()), "err", err)
			writeMessage(w, http.StatusBadGateway, upload.Message)
			return
		}
		writeFieldErrors(w, http.StatusBadRequest, map[string]string{upload.Field: upload.Message})
	case errors.Is(err, errBodyTooLarge):
		writeMessage(w, http.StatusRequestEntityTooLarge, "Request body too large")
	case errors.Is(err, services.ErrInvalidCredentials):
		writeFieldErrors(w, http.StatusUnauthorized, map[string]string{"general": "Invalid credentials"})
	case errors.Is(err, store.ErrNotFound):
		writeMessage(w, http.StatusNotFound, notFound)
	case errors.Is(err, services.ErrForbidden):
		writeMessage(w, http.StatusForbidden, "Action not allowed")
	case errors.Is(err, services.ErrInvalidOperation):
		writeMessage(w, http.StatusBadRequest, "Invalid operation")
	case errors.Is(err, services.ErrConflictRisk):
		writeMessage(w, http.StatusConflict, "Relationship update conflicted, please retry")
	default:
		logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"err", err,
		)
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
	}
}

func parseObjectID(r *http.Request, param string) (primitive.ObjectID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, param))
	id, err := primitive.ObjectIDFromHex(raw)
	if err != nil || id.IsZero() {
		return primitive.NilObjectID, errors.New("invalid id")
	}
	return id, nil
}

// parseForm reads multipart and urlencoded bodies alike.
// parseForm parses a multipart or urlencoded body of at most
// maxUpload+formOverhead bytes.
func parseForm(w http.ResponseWriter, r *http.Request, maxUpload int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload+formOverhead)

	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		err = r.ParseMultipartForm(maxMultipartMemory)
	} else {
		err = r.ParseForm()
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) || (err != nil && strings.Contains(err.Error(), "request body too large")) {
		return errBodyTooLarge
	}
	return err
}

// writeFormError reports a parseForm failure.
func writeFormError(w http.ResponseWriter, err error) {
	if errors.Is(err, errBodyTooLarge) {
		writeMessage(w, http.StatusRequestEntityTooLarge, "Request body too large")
		return
	}
	writeMessage(w, http.StatusBadRequest, "Invalid form data")
}

func isJSON(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

// formFile returns the single file uploaded under field, or nil when the
// field is absent. Files over limit yield errFileTooLarge.
func formFile(form *multipart.Form, field string, limit int64) (*storage.File, error) {
	if form == nil {
		return nil, nil
	}
	files := form.File[field]
	if len(files) == 0 {
		return nil, nil
	}

	header := files[0]
	if header.Size > limit {
		return nil, errFileTooLarge
	}
	file, err := header.Open()
	if err != nil {
		return nil, errors.New("failed to read upload")
	}
	data, err := readFileLimited(file, limit)
	_ = file.Close()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	return &storage.File{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func readFileLimited(reader io.Reader, limit int64) ([]byte, error) {
	limited := io.LimitReader(reader, limit+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, errors.New("failed to read upload")
	}
	if int64(len(data)) > limit {
		return nil, errFileTooLarge
	}
	return data, nil
}

// uploadFieldError converts a formFile failure into the response the
// service would have produced for the same file.
func uploadFieldError(err error, field, tooLarge string) error {
	if errors.Is(err, errFileTooLarge) {
		return &services.UploadError{Field: field, Message: tooLarge}
	}
	return &services.UploadError{Field: field, Message: "Failed to read upload"}
}

func bearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}
