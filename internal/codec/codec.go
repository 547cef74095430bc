// Package codec reads and writes the on-disk memory record format: a YAML
// front-matter block followed by the free-text body.
//
//	---
//	id: 01J...
//	title: DB schema
//	keywords: [db, schema, ...]
//	created_at: 2025-01-15T10:30:00Z
//	updated_at: 2025-01-15T10:30:00Z
//	size_bytes: 187
//	---
//
//	Users table has columns id, name, email
package codec

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rcliao/memory-mcp/internal/model"
)

const frontMatterDelimiter = "---"

// Extension is the file extension of record files.
const Extension = ".md"

var (
	ErrMissingDelimiter = errors.New("codec: missing front-matter delimiter")
	ErrUnclosedBlock    = errors.New("codec: unclosed front-matter block")
	ErrMissingID        = errors.New("codec: missing id")
	ErrEmptyBody        = errors.New("codec: empty body")
)

type frontMatter struct {
	ID        string    `yaml:"id"`
	Title     string    `yaml:"title"`
	Keywords  []string  `yaml:"keywords,flow"`
	CreatedAt time.Time `yaml:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at"`
	SizeBytes int       `yaml:"size_bytes"`
}

// Decode parses a raw record file.
func Decode(raw []byte) (*model.Record, error) {
	s := string(raw)
	if !strings.HasPrefix(s, frontMatterDelimiter) {
		return nil, ErrMissingDelimiter
	}
	rest := s[len(frontMatterDelimiter):]
	idx := strings.Index(rest, "\n"+frontMatterDelimiter)
	if idx == -1 {
		return nil, ErrUnclosedBlock
	}
	yamlBlock := rest[:idx]
	body := rest[idx+len("\n"+frontMatterDelimiter):]
	body = strings.TrimPrefix(body, "\n")
	body = strings.TrimPrefix(body, "\n")
	body = strings.TrimSuffix(body, "\n")

	var fm frontMatter
	if err := yaml.Unmarshal([]byte(yamlBlock), &fm); err != nil {
		return nil, fmt.Errorf("codec: front-matter parse error: %w", err)
	}
	if fm.ID == "" {
		return nil, ErrMissingID
	}
	if strings.TrimSpace(body) == "" {
		return nil, ErrEmptyBody
	}
	if fm.UpdatedAt.Before(fm.CreatedAt) {
		return nil, fmt.Errorf("codec: updated_at %s before created_at %s", fm.UpdatedAt, fm.CreatedAt)
	}
	return &model.Record{
		ID:        fm.ID,
		Title:     fm.Title,
		Keywords:  fm.Keywords,
		Body:      body,
		CreatedAt: fm.CreatedAt,
		UpdatedAt: fm.UpdatedAt,
		SizeBytes: fm.SizeBytes,
	}, nil
}

// Encode renders r to its on-disk form and stores the final byte length,
// size field included, in r.SizeBytes.
func Encode(r *model.Record) ([]byte, error) {
	if r.ID == "" {
		return nil, ErrMissingID
	}
	size := r.SizeBytes
	for range 8 {
		b, err := render(r, size)
		if err != nil {
			return nil, err
		}
		if len(b) == size {
			r.SizeBytes = size
			return b, nil
		}
		size = len(b)
	}
	return nil, fmt.Errorf("codec: size of %s did not converge", r.ID)
}

func render(r *model.Record, size int) ([]byte, error) {
	fm := frontMatter{
		ID:        r.ID,
		Title:     r.Title,
		Keywords:  r.Keywords,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		SizeBytes: size,
	}
	if fm.Keywords == nil {
		fm.Keywords = []string{}
	}
	yamlBytes, err := yaml.Marshal(&fm)
	if err != nil {
		return nil, fmt.Errorf("codec: serialize error: %w", err)
	}
	var sb strings.Builder
	sb.WriteString(frontMatterDelimiter + "\n")
	sb.Write(yamlBytes)
	sb.WriteString(frontMatterDelimiter + "\n\n")
	sb.WriteString(r.Body)
	sb.WriteString("\n")
	return []byte(sb.String()), nil
}
