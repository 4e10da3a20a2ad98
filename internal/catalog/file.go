package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
)

type fileEntry struct {
	Name        string `mapstructure:"name"`
	Description string `mapstructure:"description"`
	Schema      string `mapstructure:"schema"`
}

type fileCatalog struct {
	DocumentTypes []fileEntry `mapstructure:"documentTypes"`
}

// FileCatalog reads a YAML catalog whose entries point at JSON schema files
// relative to the catalog. The file is re-read on every call.
//
//	documentTypes:
//	  - name: CapCall
//	    description: Capital call notice sent to limited partners
//	    schema: schemas/capcall.json
type FileCatalog struct {
	path string
	mu   sync.Mutex
}

// NewFileCatalog checks that the catalog file exists.
func NewFileCatalog(path string) (*FileCatalog, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("catalog file: %w", err)
	}
	return &FileCatalog{path: path}, nil
}

func (c *FileCatalog) load() (*fileCatalog, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := viper.New()
	v.SetConfigFile(c.path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", c.path, err)
	}
	var fc fileCatalog
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", c.path, err)
	}
	return &fc, nil
}

// DocumentTypes implements Provider.
func (c *FileCatalog) DocumentTypes(ctx context.Context) ([]DocumentType, error) {
	fc, err := c.load()
	if err != nil {
		return nil, err
	}
	out := make([]DocumentType, 0, len(fc.DocumentTypes))
	for _, e := range fc.DocumentTypes {
		if e.Name == "" {
			continue
		}
		out = append(out, DocumentType{Name: e.Name, Description: e.Description})
	}
	return out, nil
}

// Schema implements Provider.
func (c *FileCatalog) Schema(ctx context.Context, documentType string) (map[string]interface{}, error) {
	fc, err := c.load()
	if err != nil {
		return nil, err
	}
	for _, e := range fc.DocumentTypes {
		if e.Name != documentType {
			continue
		}
		if e.Schema == "" {
			return nil, ErrSchemaNotFound
		}
		path := e.Schema
		if !filepath.IsAbs(path) {
			path = filepath.Join(filepath.Dir(c.path), path)
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, ErrSchemaNotFound
			}
			return nil, fmt.Errorf("read schema %s: %w", path, err)
		}
		var schema map[string]interface{}
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", path, err)
		}
		return schema, nil
	}
	return nil, ErrSchemaNotFound
}
