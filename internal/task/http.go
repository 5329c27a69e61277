package task

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"ticklist/internal/api"
	"ticklist/internal/export"
	"ticklist/internal/model"
	"ticklist/internal/query"
)

const maxImportBytes = 5 << 20

type Handler struct {
	repo         Repo
	repoResolver func(*http.Request) Repo
	logger       *log.Logger
	now          func() time.Time
}

func NewHandler(repo Repo, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Handler{repo: repo, logger: logger, now: time.Now}
}

func (h *Handler) SetRepoResolver(fn func(*http.Request) Repo) {
	h.repoResolver = fn
}

func (h *Handler) repoForRequest(r *http.Request) Repo {
	if h.repoResolver != nil {
		if repo := h.repoResolver(r); repo != nil {
			return repo
		}
	}
	return h.repo
}

func (h *Handler) writeRepoErr(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ErrNotFound) {
		api.WriteError(w, http.StatusNotFound, api.CodeNotFound, "Task not found")
		return
	}
	h.logger.Printf("[tasks] %s %s: %v", r.Method, r.URL.Path, err)
	api.WriteError(w, http.StatusInternalServerError, api.CodeInternal, "internal error")
}

// ListParams reads completed|status, category, tag, search, sort and order.
func ListParams(r *http.Request) (query.Criteria, query.SortField, query.Order, error) {
	q := r.URL.Query()
	var c query.Criteria

	completed := q.Get("completed")
	if completed == "" {
		completed = q.Get("status")
	}
	done, err := query.ParseCompleted(completed)
	if err != nil {
		return c, "", "", err
	}
	c.Completed = done
	c.Category = strings.TrimSpace(q.Get("category"))
	c.Tag = strings.TrimSpace(q.Get("tag"))
	c.Search = strings.TrimSpace(q.Get("search"))

	var field query.SortField
	var order query.Order
	if s := q.Get("sort"); s != "" {
		if field, err = query.ParseSortField(s); err != nil {
			return c, "", "", err
		}
		if order, err = query.ParseOrder(q.Get("order")); err != nil {
			return c, "", "", err
		}
	}
	return c, field, order, nil
}

func (h *Handler) listed(w http.ResponseWriter, r *http.Request) ([]model.Task, bool) {
	c, field, order, err := ListParams(r)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, api.CodeBadRequest, err.Error())
		return nil, false
	}
	ts, err := h.repoForRequest(r).List(r.Context())
	if err != nil {
		h.writeRepoErr(w, r, err)
		return nil, false
	}
	if field == "" {
		return query.Filter(ts, c), true
	}
	return query.Apply(ts, c, field, order), true
}

// /api/tasks  (collection)
func (h *Handler) TasksRoot(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		ts, ok := h.listed(w, r)
		if !ok {
			return
		}
		api.WriteData(w, http.StatusOK, ts)

	case http.MethodPost:
		var d model.Draft
		if err := api.DecodeJSON(r, &d); err != nil {
			api.WriteError(w, http.StatusBadRequest, api.CodeBadRequest, "bad json")
			return
		}
		if err := model.ValidateDraft(d); err != nil {
			api.WriteValidation(w, err)
			return
		}
		t, err := h.repoForRequest(r).Create(r.Context(), model.NewTask("", d, time.Time{}))
		if err != nil {
			h.writeRepoErr(w, r, err)
			return
		}
		api.WriteData(w, http.StatusCreated, t)

	default:
		api.MethodNotAllowed(w)
	}
}

// /api/tasks/{id}, /api/tasks/{id}/complete, /api/tasks/{id}/calendar.ics and the
// collection actions export, import and stats.
func (h *Handler) TasksSub(w http.ResponseWriter, r *http.Request) {
	tail := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/tasks/"), "/")
	if tail == "" {
		h.TasksRoot(w, r)
		return
	}
	parts := strings.Split(tail, "/")

	if len(parts) == 1 {
		switch parts[0] {
		case "export":
			h.export(w, r)
			return
		case "import":
			h.importTasks(w, r)
			return
		case "stats":
			h.stats(w, r)
			return
		}
		h.task(w, r, parts[0])
		return
	}

	if len(parts) == 2 {
		switch parts[1] {
		case "complete":
			h.complete(w, r, parts[0])
			return
		case "calendar.ics":
			h.calendar(w, r, parts[0])
			return
		}
	}

	api.WriteError(w, http.StatusNotFound, api.CodeNotFound, "not found")
}

func (h *Handler) task(w http.ResponseWriter, r *http.Request, id string) {
	repo := h.repoForRequest(r)

	switch r.Method {
	case http.MethodGet:
		t, err := repo.Get(r.Context(), id)
		if err != nil {
			h.writeRepoErr(w, r, err)
			return
		}
		api.WriteData(w, http.StatusOK, t)

	case http.MethodPut, http.MethodPatch:
		var p model.Patch
		if err := api.DecodeJSON(r, &p); err != nil {
			api.WriteError(w, http.StatusBadRequest, api.CodeBadRequest, "bad json")
			return
		}
		if err := model.ValidatePatch(p); err != nil {
			api.WriteValidation(w, err)
			return
		}
		t, err := repo.Update(r.Context(), id, p)
		if err != nil {
			h.writeRepoErr(w, r, err)
			return
		}
		api.WriteData(w, http.StatusOK, t)

	case http.MethodDelete:
		if err := repo.Delete(r.Context(), id); err != nil {
			h.writeRepoErr(w, r, err)
			return
		}
		api.WriteData(w, http.StatusOK, map[string]any{"id": id, "deleted": true})

	default:
		api.MethodNotAllowed(w)
	}
}

// complete sets the completed flag from {"completed": bool}; an empty body flips it.
func (h *Handler) complete(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPatch && r.Method != http.MethodPost {
		api.MethodNotAllowed(w)
		return
	}
	repo := h.repoForRequest(r)

	var in struct {
		Completed *bool `json:"completed"`
	}
	if err := api.DecodeJSON(r, &in); err != nil && !errors.Is(err, io.EOF) {
		api.WriteError(w, http.StatusBadRequest, api.CodeBadRequest, "bad json")
		return
	}
	if in.Completed == nil {
		cur, err := repo.Get(r.Context(), id)
		if err != nil {
			h.writeRepoErr(w, r, err)
			return
		}
		flipped := !cur.Completed
		in.Completed = &flipped
	}

	t, err := repo.Update(r.Context(), id, model.Patch{Completed: in.Completed})
	if err != nil {
		h.writeRepoErr(w, r, err)
		return
	}
	api.WriteData(w, http.StatusOK, t)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.MethodNotAllowed(w)
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, api.CodeBadRequest, err.Error())
		return
	}
	ts, ok := h.listed(w, r)
	if !ok {
		return
	}
	body, err := export.Encode(ts, format)
	if err != nil {
		h.writeRepoErr(w, r, err)
		return
	}
	w.Header().Set("Content-Type", export.ContentType(format))
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, export.Filename(h.now(), format)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// importTasks stores every task of a JSON export document under new ids.
func (h *Handler) importTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		api.MethodNotAllowed(w)
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		api.WriteError(w, http.StatusRequestEntityTooLarge, api.CodeBadRequest, "document too large")
		return
	}
	incoming, err := export.FromJSON(data)
	if err != nil {
		if errors.Is(err, export.ErrInvalidDocument) {
			api.WriteError(w, http.StatusBadRequest, api.CodeValidation, err.Error())
			return
		}
		h.writeRepoErr(w, r, err)
		return
	}

	repo := h.repoForRequest(r)
	created := make([]model.Task, 0, len(incoming))
	for _, t := range incoming {
		saved, err := repo.Create(r.Context(), t)
		if err != nil {
			h.writeRepoErr(w, r, err)
			return
		}
		created = append(created, saved)
	}
	h.logger.Printf("[tasks] imported %d tasks", len(created))
	api.WriteData(w, http.StatusCreated, created)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.MethodNotAllowed(w)
		return
	}
	ts, err := h.repoForRequest(r).List(r.Context())
	if err != nil {
		h.writeRepoErr(w, r, err)
		return
	}
	api.WriteData(w, http.StatusOK, query.CountByStatus(ts, h.now()))
}

// /api/tags
func (h *Handler) Tags(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.MethodNotAllowed(w)
		return
	}
	ts, err := h.repoForRequest(r).List(r.Context())
	if err != nil {
		h.writeRepoErr(w, r, err)
		return
	}
	api.WriteData(w, http.StatusOK, query.Tags(ts))
}

// /api/categories
func (h *Handler) Categories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.MethodNotAllowed(w)
		return
	}
	ts, err := h.repoForRequest(r).List(r.Context())
	if err != nil {
		h.writeRepoErr(w, r, err)
		return
	}
	api.WriteData(w, http.StatusOK, query.Categories(ts))
}

func (h *Handler) calendar(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		api.MethodNotAllowed(w)
		return
	}
	t, err := h.repoForRequest(r).Get(r.Context(), id)
	if err != nil {
		h.writeRepoErr(w, r, err)
		return
	}
	ics, err := BuildTaskCalendarICS(t, h.now())
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, api.CodeBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="task-%s.ics"`, t.ID))
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, ics)
}
