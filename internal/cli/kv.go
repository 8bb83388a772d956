package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"owconsole/internal/kvdata"
)

func newKVCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kv",
		Short: "Browse and edit keys of a KV namespace",
	}
	cmd.AddCommand(newKVListCmd(e), newKVPutCmd(e), newKVDeleteCmd(e))
	return cmd
}

func newKVListCmd(e *env) *cobra.Command {
	var opts kvdata.ListOptions
	var all bool
	cmd := &cobra.Command{
		Use:   "keys <namespaceId>",
		Short: "List keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.App(cmd.Context())
			if err != nil {
				return err
			}
			var items []kvdata.Item
			for {
				page, err := a.KVData.List(cmd.Context(), args[0], opts)
				if err != nil {
					return err
				}
				items = append(items, page.Items...)
				if !all || !page.HasMore || page.Cursor == nil {
					if page.HasMore && page.Cursor != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "more keys: --cursor %s\n", *page.Cursor)
					}
					break
				}
				opts.Cursor = *page.Cursor
			}
			return writeJSON(cmd.OutOrStdout(), items)
		},
	}
	cmd.Flags().StringVar(&opts.Prefix, "prefix", "", "Only keys with this prefix")
	cmd.Flags().StringVar(&opts.Cursor, "cursor", "", "Continue from a previous page")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Page size")
	cmd.Flags().BoolVar(&all, "all", false, "Follow cursors until the last page")
	return cmd
}

func newKVPutCmd(e *env) *cobra.Command {
	var ttl int
	cmd := &cobra.Command{
		Use:   "put <namespaceId> <key> <value>",
		Short: "Write a key",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.App(cmd.Context())
			if err != nil {
				return err
			}
			item, err := a.KVData.Put(cmd.Context(), args[0], args[1], args[2], ttl)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), item)
		},
	}
	cmd.Flags().IntVar(&ttl, "ttl", 0, "Expire after this many seconds")
	return cmd
}

func newKVDeleteCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <namespaceId> <key>",
		Short: "Delete a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.App(cmd.Context())
			if err != nil {
				return err
			}
			ok, err := a.KVData.Delete(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ok)
			return nil
		},
	}
}
