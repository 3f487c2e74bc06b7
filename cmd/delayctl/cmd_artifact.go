package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/danielpatrickdp/delay-risk/internal/artifact"
	"github.com/danielpatrickdp/delay-risk/internal/pipeline"
	"github.com/spf13/cobra"
)

func newArtifactCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "artifact",
		Short: "Import, inspect and roll back model artifacts",
	}
	cmd.AddCommand(newImportCmd(), newExportCmd(), newListCmd(), newShowCmd(), newActivateCmd())
	return cmd
}

// #region import
func newImportCmd() *cobra.Command {
	var out, registry string
	cmd := &cobra.Command{
		Use:   "import MANIFEST",
		Short: "Build an artifact from a training manifest (YAML or JSON)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (out == "") == (registry == "") {
				return errors.New("exactly one of --out or --registry is required")
			}
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open manifest: %w", err)
			}
			defer f.Close()
			a, err := artifact.ReadManifest(f)
			if err != nil {
				return err
			}

			if out != "" {
				if err := artifact.Save(a, out); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %s -> %s\n", a.Version, out)
				return nil
			}
			reg, err := artifact.OpenRegistry(registry)
			if err != nil {
				return err
			}
			defer reg.Close()
			if err := reg.Commit(a); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %s into %s (active)\n", a.Version, registry)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "write a single artifact file")
	cmd.Flags().StringVar(&registry, "registry", "", "commit into a registry database")
	return cmd
}

// #endregion import

// #region export
func newExportCmd() *cobra.Command {
	var versionID, out string
	cmd := &cobra.Command{
		Use:   "export SOURCE",
		Short: "Write an artifact back out as a YAML manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openArtifact(args[0], versionID)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("create manifest: %w", err)
				}
				defer f.Close()
				w = f
			}
			return artifact.WriteManifest(w, a)
		},
	}
	cmd.Flags().StringVar(&versionID, "version", "", "registry version (default active)")
	cmd.Flags().StringVarP(&out, "output", "o", "", "manifest path (default stdout)")
	return cmd
}

// #endregion export

// #region list
func newListCmd() *cobra.Command {
	var (
		registry string
		last     int
		markdown bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registry versions, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := openExistingRegistry(registry)
			if err != nil {
				return err
			}
			defer reg.Close()

			versions, err := reg.List(last)
			if err != nil {
				return err
			}
			if len(versions) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "no versions found")
				return nil
			}

			t := newTable(cmd.OutOrStdout(), markdown, "", "Version", "Parent", "Dim", "Source", "Created")
			t.alignRight(4)
			for _, v := range versions {
				marker := ""
				if v.Active {
					marker = "*"
				}
				t.row(marker, v.Version, shortID(v.ParentID), v.Dimension, v.Source, v.CreatedAt.Format(time.RFC3339))
			}
			t.render()
			return nil
		},
	}
	cmd.Flags().StringVar(&registry, "registry", "", "registry database (required)")
	cmd.Flags().IntVar(&last, "last", 20, "show N most recent versions")
	cmd.Flags().BoolVar(&markdown, "markdown", false, "render as a Markdown table")
	_ = cmd.MarkFlagRequired("registry")
	return cmd
}

// #endregion list

// #region show
func newShowCmd() *cobra.Command {
	var (
		versionID string
		markdown  bool
	)
	cmd := &cobra.Command{
		Use:   "show SOURCE",
		Short: "Show an artifact's metadata and feature layout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openArtifact(args[0], versionID)
			if err != nil {
				return err
			}
			return printArtifact(cmd.OutOrStdout(), a, markdown)
		},
	}
	cmd.Flags().StringVar(&versionID, "version", "", "registry version (default active)")
	cmd.Flags().BoolVar(&markdown, "markdown", false, "render as a Markdown table")
	return cmd
}

func printArtifact(out io.Writer, a *artifact.Artifact, markdown bool) error {
	fmt.Fprintf(out, "Version:   %s\n", a.Version)
	fmt.Fprintf(out, "Created:   %s\n", a.CreatedAt.Format(time.RFC3339))
	if a.Source != "" {
		fmt.Fprintf(out, "Source:    %s\n", a.Source)
	}
	fmt.Fprintf(out, "Dimension: %d\n", a.Schema.Dimension())
	fmt.Fprintf(out, "Bias:      %.4f\n", a.Model.Bias)
	fmt.Fprintf(out, "Threshold: %.3f\n\n", a.Model.Threshold)

	categories := map[string][]string{}
	for _, c := range a.Schema.Categorical {
		categories[c.Name] = c.Categories
	}

	t := newTable(out, markdown, "Field", "Offset", "Width", "Values", "Weights")
	t.alignRight(2, 3)
	for _, b := range a.Schema.Layout() {
		weights := a.Model.Weights[b.Offset : b.Offset+b.Width]
		values := "(numeric)"
		if !b.Numeric {
			values = strings.Join(categories[b.Name], ", ")
		}
		t.row(b.Name, b.Offset, b.Width, values, formatWeights(weights))
	}
	t.render()
	return nil
}

func formatWeights(ws []float64) string {
	parts := make([]string, len(ws))
	for i, w := range ws {
		parts[i] = fmt.Sprintf("%+.4f", w)
	}
	return strings.Join(parts, " ")
}

// #endregion show

// #region activate
func newActivateCmd() *cobra.Command {
	var registry string
	cmd := &cobra.Command{
		Use:   "activate VERSION",
		Short: "Make a stored version active (rollback)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := openExistingRegistry(registry)
			if err != nil {
				return err
			}
			defer reg.Close()
			if err := reg.Activate(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Active version: %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&registry, "registry", "", "registry database (required)")
	_ = cmd.MarkFlagRequired("registry")
	return cmd
}

// #endregion activate

// #region helpers
// openArtifact reads a file, or a registry version when source starts with
// sqlite://. An empty versionID means the active version.
func openArtifact(source, versionID string) (*artifact.Artifact, error) {
	path, ok := strings.CutPrefix(source, pipeline.RegistryScheme)
	if !ok {
		if versionID != "" {
			return nil, errors.New("--version only applies to registry sources")
		}
		return artifact.Load(source)
	}
	reg, err := openExistingRegistry(path)
	if err != nil {
		return nil, err
	}
	defer reg.Close()
	if versionID == "" {
		return reg.Active()
	}
	return reg.Get(versionID)
}

func openExistingRegistry(path string) (*artifact.Registry, error) {
	path = strings.TrimPrefix(path, pipeline.RegistryScheme)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	return artifact.OpenRegistry(path)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion helpers
