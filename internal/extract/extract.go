// Package extract reads the flat source files of a pipeline run into raw
// tables. It performs no type coercion; cleaning happens downstream.
package extract

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/smallbiznis/saaswarehouse/internal/etl/domain"
	"go.uber.org/zap"
)

const (
	UsersFile         = "users.csv"
	SubscriptionsFile = "subscriptions.json"
	EventsFile        = "events.json"
)

// Extracted holds the raw tables of one run.
type Extracted struct {
	Users         domain.RawTable
	Subscriptions domain.RawTable
	Events        domain.RawTable
}

type Extractor struct {
	fsys fs.FS
	log  *zap.Logger
}

// New reads source files from the dataPath directory.
func New(dataPath string, log *zap.Logger) *Extractor {
	return NewFS(os.DirFS(dataPath), log)
}

func NewFS(fsys fs.FS, log *zap.Logger) *Extractor {
	return &Extractor{fsys: fsys, log: log.Named("extract")}
}

// All extracts users, subscriptions and usage events, in that order.
func (e *Extractor) All(ctx context.Context) (Extracted, error) {
	var (
		out Extracted
		err error
	)
	if out.Users, err = e.Users(ctx); err != nil {
		return Extracted{}, err
	}
	if out.Subscriptions, err = e.Subscriptions(ctx); err != nil {
		return Extracted{}, err
	}
	if out.Events, err = e.Events(ctx); err != nil {
		return Extracted{}, err
	}
	return out, nil
}

func (e *Extractor) Users(ctx context.Context) (domain.RawTable, error) {
	return e.read(ctx, UsersFile, domain.TableUsers, domain.UserColumns, readCSV)
}

func (e *Extractor) Subscriptions(ctx context.Context) (domain.RawTable, error) {
	return e.read(ctx, SubscriptionsFile, domain.TableSubscriptions, domain.SubscriptionColumns, readJSON)
}

func (e *Extractor) Events(ctx context.Context) (domain.RawTable, error) {
	return e.read(ctx, EventsFile, domain.TableEvents, nil, readJSON)
}

type decodeFunc func(r io.Reader, known []string) ([]string, []domain.RawRow, error)

func (e *Extractor) read(ctx context.Context, file, table string, known []string, decode decodeFunc) (domain.RawTable, error) {
	if err := ctx.Err(); err != nil {
		return domain.RawTable{}, err
	}

	f, err := e.fsys.Open(file)
	if err != nil {
		return domain.RawTable{}, fmt.Errorf("open %s: %w", file, err)
	}
	defer f.Close()

	columns, rows, err := decode(f, known)
	if err != nil {
		return domain.RawTable{}, fmt.Errorf("read %s: %w", file, err)
	}

	e.log.Info("extracted table",
		zap.String("table", table),
		zap.String("file", file),
		zap.Int("rows", len(rows)),
	)
	return domain.RawTable{Name: table, Columns: columns, Rows: rows}, nil
}

func readCSV(r io.Reader, _ []string) ([]string, []domain.RawRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	columns := make([]string, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		columns[i] = strings.TrimSpace(h)
	}

	var rows []domain.RawRow
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		row := make(domain.RawRow, len(columns))
		for i, cell := range record {
			if i >= len(columns) || columns[i] == "" {
				continue
			}
			row[columns[i]] = cell
		}
		rows = append(rows, row)
	}
	return columns, rows, nil
}

// readJSON decodes an array of flat objects. Numbers keep their literal
// text and null members are left out of the row.
func readJSON(r io.Reader, known []string) ([]string, []domain.RawRow, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var records []map[string]any
	if err := dec.Decode(&records); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, nil
		}
		return nil, nil, err
	}

	seen := make(map[string]struct{})
	rows := make([]domain.RawRow, 0, len(records))
	for _, rec := range records {
		row := make(domain.RawRow, len(rec))
		for key, value := range rec {
			seen[key] = struct{}{}
			cell, ok, err := cellString(value)
			if err != nil {
				return nil, nil, fmt.Errorf("field %q: %w", key, err)
			}
			if ok {
				row[key] = cell
			}
		}
		rows = append(rows, row)
	}
	return orderColumns(seen, known), rows, nil
}

func cellString(value any) (string, bool, error) {
	switch v := value.(type) {
	case nil:
		return "", false, nil
	case string:
		return v, true, nil
	case json.Number:
		return v.String(), true, nil
	case bool:
		return strconv.FormatBool(v), true, nil
	default:
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(v); err != nil {
			return "", false, err
		}
		return strings.TrimSpace(buf.String()), true, nil
	}
}

// orderColumns lists known columns first in their canonical order, then
// any other keys alphabetically.
func orderColumns(seen map[string]struct{}, known []string) []string {
	columns := make([]string, 0, len(seen))
	for _, k := range known {
		if _, ok := seen[k]; ok {
			columns = append(columns, k)
		}
	}
	var extra []string
	for k := range seen {
		if !slices.Contains(known, k) {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return append(columns, extra...)
}
