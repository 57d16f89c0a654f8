package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-go-golems/threadchat/pkg/chat"
	"github.com/go-go-golems/threadchat/pkg/codec"
	"github.com/go-go-golems/threadchat/pkg/ocr"
	"github.com/go-go-golems/threadchat/pkg/providers"
	"github.com/go-go-golems/threadchat/pkg/store"
	"github.com/go-go-golems/threadchat/pkg/titles"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// maxBodyBytes bounds request bodies, images arrive as base64 data URLs.
const maxBodyBytes = 20 << 20

// ImageAnalyzer describes an image given as a data URL.
type ImageAnalyzer interface {
	AnalyzeImage(ctx context.Context, imageData string) (string, error)
}

// Server is the thin HTTP layer in front of the provider adapters. It keeps no
// conversation state of its own; the store is only used for export, import and
// search when one is configured.
type Server struct {
	adapter  providers.Adapter
	titles   *titles.Generator
	ocr      ocr.TextExtractor
	analyzer ImageAnalyzer
	store    *store.Store
	mux      *http.ServeMux
	server   *http.Server
}

type Option func(*Server)

func WithTitleGenerator(g *titles.Generator) Option {
	return func(s *Server) {
		s.titles = g
	}
}

func WithTextExtractor(e ocr.TextExtractor) Option {
	return func(s *Server) {
		s.ocr = e
	}
}

func WithImageAnalyzer(a ImageAnalyzer) Option {
	return func(s *Server) {
		s.analyzer = a
	}
}

func WithStore(st *store.Store) Option {
	return func(s *Server) {
		s.store = st
	}
}

func New(adapter providers.Adapter, options ...Option) *Server {
	ret := &Server{
		adapter: adapter,
		mux:     http.NewServeMux(),
	}
	for _, o := range options {
		o(ret)
	}
	ret.setupRoutes()
	return ret
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("POST /api/chat", s.handleChat)
	s.mux.HandleFunc("POST /api/chat/title", s.handleTitle)
	s.mux.HandleFunc("POST /api/chat/summary", s.handleSummary)
	s.mux.HandleFunc("POST /api/chat/history", s.handleHistory)
	s.mux.HandleFunc("POST /api/chat/analyze-image", s.handleAnalyzeImage)
	s.mux.HandleFunc("POST /api/chat/export-import", s.handleExportImport)
	s.mux.HandleFunc("POST /api/ocr", s.handleOCR)
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves on addr until ctx is canceled and then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Starting server")
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Info().Msg("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Could not write response")
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := errorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

type chatRequest struct {
	Messages []chat.Message     `json:"messages"`
	Model    chat.ModelType     `json:"model"`
	Settings *chat.ChatSettings `json:"settings,omitempty"`
}

func (s *Server) settings() chat.ChatSettings {
	if s.store != nil {
		return s.store.Settings()
	}
	return chat.DefaultSettings()
}

// handleChat streams the response as plain text fragments.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "No messages provided", nil)
		return
	}
	settings := s.settings()
	if req.Settings != nil {
		settings = *req.Settings
	}
	model := req.Model
	if model == "" {
		model = settings.Model
	}
	params := providers.ParamsFromSettings(model, settings)

	stream, err := s.adapter.SendMessages(r.Context(), req.Messages, params)
	if err != nil {
		log.Error().Err(err).Str("model", string(model)).Msg("Could not start stream")
		writeError(w, http.StatusInternalServerError, "Internal server error", err)
		return
	}
	defer func() {
		_ = stream.Close()
	}()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	for {
		fragment, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			if r.Context().Err() == nil {
				log.Error().Err(err).Str("model", string(model)).Msg("Streaming error")
			}
			// the status is already sent, dropping the connection is the only way to signal failure
			panic(http.ErrAbortHandler)
		}
		if _, err := io.WriteString(w, fragment); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

type titleRequest struct {
	Message string `json:"message"`
}

type titleResponse struct {
	Title string `json:"title"`
}

func (s *Server) handleTitle(w http.ResponseWriter, r *http.Request) {
	var req titleRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}
	if s.titles == nil {
		writeJSON(w, http.StatusOK, titleResponse{Title: chat.DefaultTitle})
		return
	}
	writeJSON(w, http.StatusOK, titleResponse{Title: s.titles.GenerateChatTitle(r.Context(), req.Message)})
}

type summaryRequest struct {
	Messages []chat.Message `json:"messages"`
}

type summaryResponse struct {
	Summary string `json:"summary"`
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	var req summaryRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}
	summary := ""
	if s.titles != nil {
		summary = s.titles.GenerateChatSummary(r.Context(), req.Messages)
	}
	writeJSON(w, http.StatusOK, summaryResponse{Summary: summary})
}

type imageRequest struct {
	ImageData string `json:"imageData"`
}

type ocrResponse struct {
	Text string `json:"text"`
}

func (s *Server) handleOCR(w http.ResponseWriter, r *http.Request) {
	if s.ocr == nil {
		writeError(w, http.StatusInternalServerError, "OCR processing failed",
			errors.New("Google Cloud Vision APIのキーが設定されていません。"))
		return
	}
	var req imageRequest
	if err := decode(w, r, &req); err != nil || req.ImageData == "" {
		writeError(w, http.StatusBadRequest, "No image data provided", err)
		return
	}
	text, err := s.ocr.ExtractText(r.Context(), req.ImageData)
	if err != nil {
		log.Error().Err(err).Msg("OCR failed")
		writeError(w, http.StatusInternalServerError, "OCR processing failed", err)
		return
	}
	writeJSON(w, http.StatusOK, ocrResponse{Text: text})
}

type analysisResponse struct {
	Analysis string `json:"analysis"`
}

func (s *Server) handleAnalyzeImage(w http.ResponseWriter, r *http.Request) {
	var req imageRequest
	if err := decode(w, r, &req); err != nil || req.ImageData == "" {
		writeError(w, http.StatusBadRequest, "No image data provided", err)
		return
	}
	if s.analyzer == nil {
		writeError(w, http.StatusInternalServerError, "Failed to analyze image", errors.New("no image analyzer configured"))
		return
	}
	analysis, err := s.analyzer.AnalyzeImage(r.Context(), req.ImageData)
	if err != nil {
		log.Error().Err(err).Msg("Image analysis failed")
		writeError(w, http.StatusInternalServerError, "Failed to analyze image", err)
		return
	}
	writeJSON(w, http.StatusOK, analysisResponse{Analysis: analysis})
}

type historyResponse struct {
	Success bool                 `json:"success"`
	Results []store.SearchResult `json:"results"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "No chat store configured", nil)
		return
	}
	var filters store.SearchFilters
	if err := decode(w, r, &filters); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Success: true, Results: s.store.Search(filters)})
}

type exportImportRequest struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

type exportRequestData struct {
	Chats           []*chat.Chat       `json:"chats"`
	Settings        *chat.ChatSettings `json:"settings"`
	SelectedChatIDs []string           `json:"selectedChatIds"`
}

type exportResponse struct {
	Success bool             `json:"success"`
	Data    *chat.ExportData `json:"data"`
	Message string           `json:"message"`
}

type importResponse struct {
	chat.ImportResult
	Message string `json:"message,omitempty"`
}

// handleExportImport exports the posted chats, or the store when none are
// posted, and imports an export envelope into the store.
func (s *Server) handleExportImport(w http.ResponseWriter, r *http.Request) {
	var req exportImportRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}

	switch req.Action {
	case "export":
		var data exportRequestData
		if len(req.Data) > 0 {
			if err := json.Unmarshal(req.Data, &data); err != nil {
				writeError(w, http.StatusBadRequest, "Invalid request", err)
				return
			}
		}
		opts := chat.ExportOptions{SelectedChatIDs: data.SelectedChatIDs}
		settings := chat.DefaultSettings()
		if data.Settings != nil {
			opts.IncludeSettings = true
			settings = *data.Settings
		}
		chats := data.Chats
		if chats == nil && s.store != nil {
			chats = s.store.Chats()
			settings = s.store.Settings()
			opts.IncludeSettings = true
		}
		writeJSON(w, http.StatusOK, exportResponse{
			Success: true,
			Data:    codec.ExportChats(chats, settings, opts),
			Message: "エクスポートが完了しました",
		})

	case "import":
		if s.store == nil {
			writeError(w, http.StatusInternalServerError, "No chat store configured", nil)
			return
		}
		keep := r.URL.Query().Get("keepExisting") != "false"
		result := codec.Import(r.Context(), s.store, req.Data, chat.ImportOptions{KeepExisting: keep})
		if !result.Success {
			writeJSON(w, http.StatusInternalServerError, importResponse{ImportResult: result})
			return
		}
		writeJSON(w, http.StatusOK, importResponse{ImportResult: result, Message: "インポートが完了しました"})

	default:
		writeJSON(w, http.StatusBadRequest, importResponse{ImportResult: chat.ImportResult{Error: "無効なアクション"}})
	}
}
