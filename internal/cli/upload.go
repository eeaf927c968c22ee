package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newUploadCmd(a *app) *cobra.Command {
	var (
		fileID string
		name   string
		upsert bool
	)
	cmd := &cobra.Command{
		Use:     "upload <bucket> <file>",
		Short:   "Upload a file to a storage bucket",
		Example: `  docrel upload avatars ./me.png --id user-42 --upsert`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			bucket, path := args[0], args[1]
			f, err := os.Open(path)
			if err != nil {
				return &userError{err: err}
			}
			defer f.Close()
			if name == "" {
				name = filepath.Base(path)
			}

			c, err := a.client()
			if err != nil {
				return err
			}
			defer c.Close()

			stored, err := c.Storage().Upload(cmd.Context(), bucket, fileID, name, f, upsert)
			if err != nil {
				return fmt.Errorf("upload %s: %w", path, err)
			}
			return a.printJSON(cmd, map[string]any{
				"file": stored,
				"url":  c.Storage().ViewURL(bucket, stored.ID),
			})
		},
	}
	cmd.Flags().StringVar(&fileID, "id", "", "file identifier (default: assigned by the store)")
	cmd.Flags().StringVar(&name, "name", "", "stored file name (default: base name of <file>)")
	cmd.Flags().BoolVar(&upsert, "upsert", false, "replace an existing file with the same id")
	return cmd
}
