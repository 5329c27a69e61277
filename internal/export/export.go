// Package export encodes task lists as JSON or CSV documents and reads JSON documents back.
package export

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"

	"ticklist/internal/model"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	ErrInvalidDocument   = errors.New("invalid task document")
)

// CSVColumns is the fixed column order of CSV exports.
var CSVColumns = []string{"id", "title", "description", "completed", "createdAt", "updatedAt", "dueDate", "category", "tags"}

const csvTimeLayout = "2006-01-02T15:04:05.000Z07:00"

//go:embed tasks.schema.json
var schemaJSON string

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	if err := compiler.AddResource("tasks.schema.json", strings.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return compiler.Compile("tasks.schema.json")
})

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, s)
	}
}

func ContentType(f Format) string {
	if f == FormatCSV {
		return "text/csv"
	}
	return "application/json"
}

// Filename follows tasks-<ISO date>.<ext>.
func Filename(now time.Time, f Format) string {
	return "tasks-" + now.UTC().Format("2006-01-02") + "." + string(f)
}

func Encode(tasks []model.Task, f Format) ([]byte, error) {
	switch f {
	case FormatJSON:
		return ToJSON(tasks)
	case FormatCSV:
		return ToCSV(tasks), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}
}

func ToJSON(tasks []model.Task) ([]byte, error) {
	out := make([]model.Task, 0, len(tasks))
	for _, t := range tasks {
		c := t.Clone()
		model.Normalize(&c)
		out = append(out, c)
	}
	return json.MarshalIndent(out, "", "  ")
}

// ToCSV always quotes string columns, which encoding/csv cannot be told to do.
func ToCSV(tasks []model.Task) []byte {
	if len(tasks) == 0 {
		return nil
	}
	var b bytes.Buffer
	b.WriteString(strings.Join(CSVColumns, ","))
	b.WriteByte('\n')
	for _, t := range tasks {
		due := ""
		if t.DueDate != nil {
			due = formatTime(*t.DueDate)
		}
		row := []string{
			quote(t.ID),
			quote(t.Title),
			quote(t.Description),
			strconv.FormatBool(t.Completed),
			formatTime(t.CreatedAt),
			formatTime(t.UpdatedAt),
			due,
			quote(t.Category),
			quote(strings.Join(t.Tags, "|")),
		}
		b.WriteString(strings.Join(row, ","))
		b.WriteByte('\n')
	}
	return b.Bytes()
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(csvTimeLayout)
}

// FromJSON reads a document produced by ToJSON. The document is checked against the
// export schema before decoding and against the model invariants after.
func FromJSON(data []byte) ([]model.Task, error) {
	schema, err := compileSchema()
	if err != nil {
		return nil, fmt.Errorf("compile export schema: %w", err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDocument, schemaMessage(err))
	}

	var tasks []model.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	seen := make(map[string]struct{}, len(tasks))
	for i := range tasks {
		model.Normalize(&tasks[i])
		if err := model.ValidateTask(tasks[i]); err != nil {
			return nil, fmt.Errorf("%w: task %d: %v", ErrInvalidDocument, i, err)
		}
		if _, dup := seen[tasks[i].ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidDocument, tasks[i].ID)
		}
		seen[tasks[i].ID] = struct{}{}
	}
	if tasks == nil {
		tasks = []model.Task{}
	}
	return tasks, nil
}

// schemaMessage digs out the innermost validation failure.
func schemaMessage(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	loc := ve.InstanceLocation
	if loc == "" {
		loc = "/"
	}
	return loc + ": " + ve.Message
}
