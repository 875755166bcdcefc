package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	cobraDoc "github.com/spf13/cobra/doc"
)

func newDocsCommand(rootFactory func() *cobra.Command) *cobra.Command {
	docsRoot := &cobra.Command{
		Use:    "docs",
		Short:  "Internal docs maintenance commands",
		Hidden: true,
	}

	var (
		outputDir string
		checkOnly bool
	)

	gen := &cobra.Command{
		Use:   "generate",
		Short: "Generate the command reference from command source",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(outputDir) == "" {
				return fmt.Errorf("--output must not be empty")
			}
			return generateDocumentation(rootFactory, outputDir, checkOnly)
		},
	}
	gen.Flags().StringVar(&outputDir, "output", "docs", "Docs directory root")
	gen.Flags().BoolVar(&checkOnly, "check", false, "Fail if generated docs are out of date")

	docsRoot.AddCommand(gen)
	return docsRoot
}

func generateDocumentation(rootFactory func() *cobra.Command, outputDir string, checkOnly bool) error {
	tmpDir, err := os.MkdirTemp("", "namesync-docs-gen-*")
	if err != nil {
		return fmt.Errorf("create temp docs dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	// A fresh root keeps generation independent of whatever flag state
	// the running invocation carries.
	root := rootFactory()
	root.DisableAutoGenTag = true

	generated := filepath.Join(tmpDir, "cli")
	if err := os.MkdirAll(generated, 0o755); err != nil {
		return fmt.Errorf("create temp cli dir: %w", err)
	}
	if err := cobraDoc.GenMarkdownTree(root, generated); err != nil {
		return fmt.Errorf("generate cli reference: %w", err)
	}

	target := filepath.Join(outputDir, "cli")
	if checkOnly {
		return compareDocsDir(generated, target)
	}
	return copyDocsDir(generated, target)
}

func compareDocsDir(srcDir, dstDir string) error {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		want, err := os.ReadFile(filepath.Join(srcDir, entry.Name()))
		if err != nil {
			return err
		}
		got, err := os.ReadFile(filepath.Join(dstDir, entry.Name()))
		if err != nil {
			return fmt.Errorf("docs out of date: missing %s (run `namesync docs generate`)", entry.Name())
		}
		if !bytes.Equal(want, got) {
			return fmt.Errorf("docs out of date: %s differs (run `namesync docs generate`)", entry.Name())
		}
	}
	return nil
}

func copyDocsDir(srcDir, dstDir string) error {
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return err
	}
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		data, err := os.ReadFile(filepath.Join(srcDir, entry.Name()))
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dstDir, entry.Name()), data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", entry.Name(), err)
		}
	}
	return nil
}
