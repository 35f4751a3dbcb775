// Package scaffold lays out a new certgen working directory.
package scaffold

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyluth/certgen/internal/config"
)

//go:embed templates/*
var templatesFS embed.FS

// ExampleRecords is the sample batch written next to the config.
const ExampleRecords = "records.example.jsonl"

// Directories created by Initialize, relative to the project root.
var Directories = []string{"templates", "fonts", "certificates", "temp"}

// FileInfo represents a file to be created during initialization
type FileInfo struct {
	Path        string
	Content     []byte
	Permissions os.FileMode
}

// Initialize writes certgen.yml and an example record batch into dir and
// creates the working directories. If force is true an existing certgen.yml
// is overwritten; generated certificates are never touched.
func Initialize(dir string, force bool) error {
	if force {
		if err := handleForce(dir); err != nil {
			return err
		}
	}

	files, err := getTemplateFiles()
	if err != nil {
		return err
	}

	if err := createDirectories(dir); err != nil {
		return err
	}

	if err := writeFiles(dir, files); err != nil {
		return err
	}

	return validateCreatedFiles(dir)
}

// handleForce removes the files Initialize would otherwise refuse to replace.
func handleForce(dir string) error {
	for _, name := range []string{config.DefaultPath, ExampleRecords} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	return nil
}

// getTemplateFiles reads all template files
func getTemplateFiles() ([]FileInfo, error) {
	cfg, err := templatesFS.ReadFile("templates/certgen.yml.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read certgen.yml template: %w", err)
	}
	records, err := templatesFS.ReadFile("templates/records.example.jsonl.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read example records template: %w", err)
	}

	return []FileInfo{
		{Path: config.DefaultPath, Content: cfg, Permissions: 0644},
		{Path: ExampleRecords, Content: records, Permissions: 0644},
	}, nil
}

func createDirectories(dir string) error {
	for _, d := range Directories {
		path := filepath.Join(dir, d)
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", path, err)
		}
	}
	return nil
}

func writeFiles(dir string, files []FileInfo) error {
	for _, file := range files {
		path := filepath.Join(dir, file.Path)
		if err := os.WriteFile(path, file.Content, file.Permissions); err != nil {
			return fmt.Errorf("failed to write %s: %w", file.Path, err)
		}
	}
	return nil
}

// validateCreatedFiles loads the written config the same way every other
// command will.
func validateCreatedFiles(dir string) error {
	if _, err := config.Load(filepath.Join(dir, config.DefaultPath)); err != nil {
		return fmt.Errorf("created %s is invalid: %w", config.DefaultPath, err)
	}
	return nil
}
