package receipt

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
)

// maxUploadSize bounds multipart uploads and imports
const maxUploadSize = int64(50 << 20) // 50MB

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// statusForKind maps error kinds onto HTTP status codes
func statusForKind(kind ErrorKind) int {
	switch kind {
	case KindValidation, KindInvalidDate:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindReadOnly, KindCollisionExhausted:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError reports err as {"success": false, "kind": ..., "error": ...}
func writeError(w http.ResponseWriter, err error) {
	kind := KindOf(err)
	if kind == "" {
		kind = KindStorage
	}
	code := statusForKind(kind)
	if code == http.StatusInternalServerError {
		slog.Error("Request failed", "kind", kind, "error", err)
	}
	writeJSON(w, code, map[string]any{
		"success": false,
		"kind":    kind,
		"error":   err.Error(),
	})
}

// writeAttachment sends data as a downloadable file
func writeAttachment(w http.ResponseWriter, contentType, filename string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Write(data)
}

// itemID reads the {id} path value
func itemID(r *http.Request) (int, error) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id < 1 {
		return 0, newError(KindValidation, err, "invalid item id %q", r.PathValue("id"))
	}
	return id, nil
}

// readUploadedFile parses the multipart form and returns the "file" part
func readUploadedFile(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", nil, newError(KindValidation, err, "file is too large, maximum size is 50MB")
		}
		return "", nil, newError(KindValidation, err, "error parsing form")
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, newError(KindValidation, err, "no file provided")
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return "", nil, newError(KindValidation, err, "error reading file")
	}
	return header.Filename, data, nil
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Document())
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Suggestions())
}

// handleFile streams a stored receipt file
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	rel := r.URL.Query().Get("path")
	data, contentType, err := s.service.ReceiptFile(rel)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", path.Base(rel)))
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(data)
}

func (s *Server) handleExportJSON(w http.ResponseWriter, r *http.Request) {
	data, err := s.service.ExportJSON()
	if err != nil {
		writeError(w, err)
		return
	}
	writeAttachment(w, "application/json; charset=utf-8", "warranty-data.json", data)
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	data, err := s.service.ExportCSV()
	if err != nil {
		writeError(w, err)
		return
	}
	writeAttachment(w, "text/csv; charset=utf-8", "warranty-data.csv", data)
}

func (s *Server) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	data, err := s.service.ExportXLSX()
	if err != nil {
		writeError(w, err)
		return
	}
	writeAttachment(w, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "warranty-data.xlsx", data)
}

func (s *Server) handleImportJSON(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadSize))
	if err != nil {
		writeError(w, newError(KindValidation, err, "error reading request body"))
		return
	}
	doc, err := s.service.ImportJSON(data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"receipts": len(doc.Receipts),
		"items":    len(doc.Items),
	})
}

// handleUpload stores a receipt file with the metadata JSON sent in the "metadata" field
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	filename, data, err := readUploadedFile(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req UploadRequest
	if err := json.Unmarshal([]byte(r.FormValue("metadata")), &req); err != nil {
		writeError(w, newError(KindValidation, err, "invalid metadata"))
		return
	}

	receipt, items, err := s.service.Upload(filename, data, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"receipt": receipt,
		"items":   items,
	})
}

// handleScan returns an OCR guess for an uploaded file without storing it
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	filename, data, err := readUploadedFile(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	suggestion, err := s.service.Scan(filename, data)
	if err != nil {
		if KindOf(err) != "" {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"ocr_data": suggestion,
	})
}

func (s *Server) handleEditItem(w http.ResponseWriter, r *http.Request) {
	id, err := itemID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var changes ItemChanges
	if err := json.NewDecoder(r.Body).Decode(&changes); err != nil {
		writeError(w, newError(KindValidation, err, "invalid request body"))
		return
	}

	item, err := s.service.EditItem(id, changes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"item":    item,
	})
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	id, err := itemID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.service.DeleteItem(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleIntegrityCheck(w http.ResponseWriter, r *http.Request) {
	issues, err := s.checker.Check(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"issues":  issues,
	})
}
