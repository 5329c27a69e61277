package web

import (
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/a-h/templ"

	"ticklist/internal/auth"
	"ticklist/internal/model"
	"ticklist/internal/query"
	"ticklist/internal/task"
)

// TasksView is everything the tasks page shows.
type TasksView struct {
	User       auth.User
	Tasks      []model.Task
	Counts     query.StatusCounts
	Categories []string
	Tags       []query.TagUsage
	Status     string
	Category   string
	Tag        string
	Search     string
	Sort       query.SortField
	Order      query.Order
	Error      string
	Now        time.Time
}

type TasksHandler struct {
	repos  func(*http.Request) task.Repo
	logger *log.Logger
	now    func() time.Time
}

func NewTasksHandler(repos func(*http.Request) task.Repo, logger *log.Logger) *TasksHandler {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &TasksHandler{repos: repos, logger: logger, now: time.Now}
}

// GET /tasks
func (h *TasksHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	v := TasksView{
		Status:   q.Get("status"),
		Category: q.Get("category"),
		Tag:      q.Get("tag"),
		Search:   q.Get("search"),
		Sort:     query.SortCreatedAt,
		Order:    query.Desc,
		Now:      h.now(),
	}
	v.User, _ = auth.UserFromContext(r.Context())

	c, field, order, err := task.ListParams(r)
	if field != "" {
		v.Sort, v.Order = field, order
	}
	all, listErr := h.repos(r).List(r.Context())
	switch {
	case listErr != nil:
		h.logger.Printf("[tasks] render page: %v", listErr)
		v.Error = "Your tasks could not be loaded. Try again in a moment."
		w.WriteHeader(http.StatusInternalServerError)
	case err != nil:
		v.Error = err.Error()
		v.Tasks = all
	default:
		v.Tasks = query.Apply(all, c, v.Sort, v.Order)
	}
	v.Counts = query.CountByStatus(all, v.Now)
	v.Categories = query.Categories(all)
	v.Tags = query.Tags(all)

	if err := TasksPage(v).Render(r.Context(), w); err != nil {
		h.logger.Printf("[tasks] write page: %v", err)
	}
}

func TasksPage(v TasksView) templ.Component {
	return page("Tasks", []string{"/static/js/tasks.js"}, func(p *writer) {
		p.raw(`<section class="tasks-head"><h1>`)
		if v.User.Name != "" {
			p.text(v.User.Name + "'s tasks")
		} else {
			p.raw(`Your tasks`)
		}
		p.raw(`</h1>`)
		p.rawf(`<p class="stats"><span>%d total</span><span>%d open</span><span>%d done</span><span class="overdue">%d overdue</span></p>`,
			v.Counts.Total, v.Counts.Pending, v.Counts.Completed, v.Counts.Overdue)
		p.raw(`<button type="button" class="ghost" id="logout">Sign out</button></section>`)

		if v.Error != "" {
			p.raw(`<p class="form-error" role="alert">`)
			p.text(v.Error)
			p.raw(`</p>`)
		}

		renderCreateForm(p)
		renderFilters(p, v)

		p.raw(`<p class="exports">Export: `)
		for _, f := range []string{"csv", "json"} {
			p.raw(`<a`)
			p.attr("href", "/api/tasks/export?format="+f)
			p.raw(`>`)
			p.text(f)
			p.raw(`</a> `)
		}
		p.raw(`</p>`)

		if len(v.Tasks) == 0 {
			p.raw(`<p class="empty muted">No tasks match. Add one above.</p>`)
		} else {
			p.raw(`<ul class="task-list">`)
			for _, t := range v.Tasks {
				renderTask(p, t, v.Now)
			}
			p.raw(`</ul>`)
		}
		p.raw(`<div class="toast" id="undo-toast" hidden><span></span><button type="button">Undo</button></div>`)
	})
}

func renderCreateForm(p *writer) {
	p.raw(`<form id="new-task" class="card new-task">`)
	p.rawf(`<input name="title" placeholder="What needs doing?" required maxlength="%d">`, model.MaxTitleLen)
	p.rawf(`<input name="category" placeholder="Category" maxlength="%d">`, model.MaxCategoryLen)
	p.raw(`<input name="tags" placeholder="tags, comma separated"><input name="dueDate" type="date">`)
	p.rawf(`<textarea name="description" placeholder="Notes" maxlength="%d"></textarea>`, model.MaxDescriptionLen)
	p.raw(`<p class="form-error" role="alert" hidden></p><button type="submit">Add task</button></form>`)
}

func renderFilters(p *writer, v TasksView) {
	p.raw(`<form class="filters" method="get" action="/tasks"><input name="search" placeholder="Search"`)
	p.attr("value", v.Search)
	p.raw(`>`)
	selectBox(p, "status", v.Status, [][2]string{{"", "All"}, {"pending", "Open"}, {"completed", "Done"}})

	cats := [][2]string{{"", "Any category"}}
	for _, c := range v.Categories {
		cats = append(cats, [2]string{c, c})
	}
	selectBox(p, "category", v.Category, cats)

	tags := [][2]string{{"", "Any tag"}}
	for _, t := range v.Tags {
		tags = append(tags, [2]string{t.Name, t.Name})
	}
	selectBox(p, "tag", v.Tag, tags)

	selectBox(p, "sort", string(v.Sort), [][2]string{
		{string(query.SortCreatedAt), "Created"},
		{string(query.SortUpdatedAt), "Updated"},
		{string(query.SortDueDate), "Due date"},
		{string(query.SortTitle), "Title"},
		{string(query.SortCompleted), "Status"},
	})
	selectBox(p, "order", string(v.Order), [][2]string{{string(query.Desc), "Descending"}, {string(query.Asc), "Ascending"}})
	p.raw(`<button type="submit">Apply</button> <a href="/tasks">Reset</a></form>`)
}

func selectBox(p *writer, name, current string, options [][2]string) {
	p.raw(`<select`)
	p.attr("name", name)
	p.raw(`>`)
	for _, o := range options {
		p.raw(`<option`)
		p.attr("value", o[0])
		if o[0] == current {
			p.raw(` selected`)
		}
		p.raw(`>`)
		p.text(o[1])
		p.raw(`</option>`)
	}
	p.raw(`</select>`)
}

func renderTask(p *writer, t model.Task, now time.Time) {
	class := "task"
	if t.Completed {
		class += " done"
	} else if t.IsOverdue(now) {
		class += " overdue"
	}
	p.raw(`<li`)
	p.attr("class", class)
	p.attr("data-id", t.ID)
	p.raw(`><label><input type="checkbox" class="toggle"`)
	if t.Completed {
		p.raw(` checked`)
	}
	p.raw(`><span class="title">`)
	p.text(t.Title)
	p.raw(`</span></label>`)
	if t.Description != "" {
		p.raw(`<p class="description">`)
		p.text(t.Description)
		p.raw(`</p>`)
	}
	p.raw(`<p class="meta">`)
	if t.Category != "" {
		p.raw(`<span class="category">`)
		p.text(t.Category)
		p.raw(`</span>`)
	}
	for _, tag := range t.Tags {
		p.raw(`<a class="tag"`)
		p.attr("href", "/tasks?tag="+url.QueryEscape(tag))
		p.raw(`>#`)
		p.text(tag)
		p.raw(`</a>`)
	}
	if t.DueDate != nil {
		p.raw(`<span class="due">Due `)
		p.text(t.DueDate.Format("Jan 2, 2006"))
		p.raw(`</span> <a class="ics"`)
		p.attr("href", "/api/tasks/"+url.PathEscape(t.ID)+"/calendar.ics")
		p.raw(`>Add to calendar</a>`)
	}
	p.raw(`</p><button type="button" class="delete ghost">Delete</button></li>`)
}
