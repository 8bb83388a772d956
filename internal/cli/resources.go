package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"owconsole/internal/app"
	"owconsole/internal/live"
	"owconsole/internal/resource"
)

type row struct {
	ID        string
	Name      string
	Desc      string
	UpdatedAt time.Time
}

type createFlags struct {
	name, desc, language, provider string
	mode, bucket, prefix, endpoint string
	region, accessKey, secretKey   string
	publicURL                      string
}

// kind is the part of a resource client the commands need, with the entity
// type erased.
type kind interface {
	List(ctx context.Context) (*live.Value[[]row], func(), error)
	Get(ctx context.Context, id string) (any, error)
	Create(ctx context.Context, f createFlags) (any, error)
	Delete(ctx context.Context, id string) (bool, error)
}

type clientKind[T any, C any, U resource.Updater] struct {
	client *resource.Client[T, C, U]
	toRow  func(T) row
	create func(ctx context.Context, f createFlags) (*live.Value[T], error)
	get    func(ctx context.Context, id string) (T, error)
	del    func(ctx context.Context, id string) (bool, error)
}

// List maps the live entity list onto rows; the returned func stops the
// mapping.
func (k clientKind[T, C, U]) List(ctx context.Context) (*live.Value[[]row], func(), error) {
	items, err := k.client.FindAll(ctx)
	if err != nil {
		return nil, nil, err
	}
	rows := live.New[[]row](nil)
	unsub := items.Subscribe(func(list []T) {
		out := make([]row, 0, len(list))
		for _, it := range list {
			out = append(out, k.toRow(it))
		}
		rows.Set(out)
	})
	return rows, unsub, nil
}

func (k clientKind[T, C, U]) Get(ctx context.Context, id string) (any, error) {
	if k.get != nil {
		return k.get(ctx, id)
	}
	return k.client.Resolve(ctx, id)
}

func (k clientKind[T, C, U]) Create(ctx context.Context, f createFlags) (any, error) {
	h, err := k.create(ctx, f)
	if err != nil {
		return nil, err
	}
	return h.Get(), nil
}

func (k clientKind[T, C, U]) Delete(ctx context.Context, id string) (bool, error) {
	if k.del != nil {
		return k.del(ctx, id)
	}
	return k.client.Delete(ctx, id)
}

var kindAliases = map[string]string{
	"worker": "workers", "workers": "workers", "w": "workers",
	"environment": "environments", "environments": "environments", "env": "environments",
	"database": "databases", "databases": "databases", "db": "databases",
	"kv": "kv", "namespace": "kv", "namespaces": "kv",
	"storage": "storage", "storages": "storage",
}

func resolveKind(a *app.App, name string, withScript bool) (kind, error) {
	base, ok := kindAliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown resource %q (workers|environments|databases|kv|storage)", name)
	}
	switch base {
	case "workers":
		k := clientKind[resource.Worker, resource.WorkerCreateInput, resource.WorkerUpdateInput]{
			client: a.Workers.Client,
			toRow:  func(w resource.Worker) row { return row{w.ID, w.Name, w.Desc, w.UpdatedAt} },
			create: func(ctx context.Context, f createFlags) (*live.Value[resource.Worker], error) {
				return a.Workers.Create(ctx, resource.WorkerCreateInput{Name: f.name, Desc: f.desc, Language: f.language})
			},
			del: a.Workers.Delete,
		}
		if withScript {
			k.get = a.Workers.ResolveWithScript
		}
		return k, nil
	case "environments":
		return clientKind[resource.Environment, resource.EnvironmentCreateInput, resource.EnvironmentUpdateInput]{
			client: a.Environments,
			toRow:  func(e resource.Environment) row { return row{e.ID, e.Name, e.Desc, e.UpdatedAt} },
			create: func(ctx context.Context, f createFlags) (*live.Value[resource.Environment], error) {
				return a.Environments.Create(ctx, resource.EnvironmentCreateInput{Name: f.name, Desc: f.desc})
			},
		}, nil
	case "databases":
		return clientKind[resource.Database, resource.DatabaseCreateInput, resource.DatabaseUpdateInput]{
			client: a.Databases,
			toRow:  func(d resource.Database) row { return row{d.ID, d.Name, d.Desc, d.UpdatedAt} },
			create: func(ctx context.Context, f createFlags) (*live.Value[resource.Database], error) {
				return a.Databases.Create(ctx, resource.DatabaseCreateInput{Name: f.name, Desc: f.desc, Provider: f.provider})
			},
		}, nil
	case "kv":
		return clientKind[resource.KvNamespace, resource.KvNamespaceCreateInput, resource.KvNamespaceUpdateInput]{
			client: a.KvNamespaces,
			toRow:  func(n resource.KvNamespace) row { return row{n.ID, n.Name, n.Desc, n.UpdatedAt} },
			create: func(ctx context.Context, f createFlags) (*live.Value[resource.KvNamespace], error) {
				return a.KvNamespaces.Create(ctx, resource.KvNamespaceCreateInput{Name: f.name, Desc: f.desc})
			},
		}, nil
	default:
		return clientKind[resource.StorageConfig, resource.StorageConfigCreateInput, resource.StorageConfigUpdateInput]{
			client: a.Storage,
			toRow:  func(s resource.StorageConfig) row { return row{s.ID, s.Name, s.Desc, s.UpdatedAt} },
			create: func(ctx context.Context, f createFlags) (*live.Value[resource.StorageConfig], error) {
				return a.Storage.Create(ctx, resource.StorageConfigCreateInput{
					Name: f.name, Desc: f.desc, Mode: f.mode, Bucket: f.bucket, Prefix: f.prefix,
					AccessKeyID: f.accessKey, SecretAccessKey: f.secretKey,
					Endpoint: f.endpoint, Region: f.region, PublicURL: f.publicURL,
				})
			},
		}, nil
	}
}

func writeRows(w io.Writer, rows []row) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tUPDATED\tDESCRIPTION")
	for _, r := range rows {
		updated := "-"
		if !r.UpdatedAt.IsZero() {
			updated = r.UpdatedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.Name, updated, r.Desc)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newListCmd(e *env) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list <resource>",
		Short: "List workers, environments, databases, kv or storage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.App(cmd.Context())
			if err != nil {
				return err
			}
			k, err := resolveKind(a, args[0], false)
			if err != nil {
				return err
			}
			rows, stop, err := k.List(cmd.Context())
			if err != nil {
				return err
			}
			defer stop()
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), rows.Get())
			}
			return writeRows(cmd.OutOrStdout(), rows.Get())
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newGetCmd(e *env) *cobra.Command {
	var script bool
	cmd := &cobra.Command{
		Use:   "get <resource> <id>",
		Short: "Show one resource",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.App(cmd.Context())
			if err != nil {
				return err
			}
			k, err := resolveKind(a, args[0], script)
			if err != nil {
				return err
			}
			v, err := k.Get(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), v)
		},
	}
	cmd.Flags().BoolVar(&script, "script", false, "Include the worker script")
	return cmd
}

func newCreateCmd(e *env) *cobra.Command {
	var f createFlags
	cmd := &cobra.Command{
		Use:   "create <resource>",
		Short: "Create a resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.App(cmd.Context())
			if err != nil {
				return err
			}
			k, err := resolveKind(a, args[0], false)
			if err != nil {
				return err
			}
			v, err := k.Create(cmd.Context(), f)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), v)
		},
	}
	cmd.Flags().StringVar(&f.name, "name", "", "Name")
	cmd.Flags().StringVar(&f.desc, "desc", "", "Description")
	cmd.Flags().StringVar(&f.language, "language", "", "Worker language (javascript|typescript)")
	cmd.Flags().StringVar(&f.provider, "provider", "", "Database provider")
	cmd.Flags().StringVar(&f.mode, "mode", "", "Storage mode (platform|custom)")
	cmd.Flags().StringVar(&f.bucket, "bucket", "", "Storage bucket")
	cmd.Flags().StringVar(&f.prefix, "prefix", "", "Storage key prefix")
	cmd.Flags().StringVar(&f.endpoint, "endpoint", "", "Storage endpoint")
	cmd.Flags().StringVar(&f.region, "region", "", "Storage region")
	cmd.Flags().StringVar(&f.accessKey, "access-key", "", "Storage access key id")
	cmd.Flags().StringVar(&f.secretKey, "secret-key", "", "Storage secret access key")
	cmd.Flags().StringVar(&f.publicURL, "public-url", "", "Storage public URL")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newDeleteCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <resource> <id>",
		Short: "Delete a resource",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.App(cmd.Context())
			if err != nil {
				return err
			}
			k, err := resolveKind(a, args[0], false)
			if err != nil {
				return err
			}
			ok, err := k.Delete(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s %s was not deleted", args[0], args[1])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[1])
			return nil
		},
	}
}

func newWatchCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <resource>",
		Short: "Print the list again whenever it changes, including changes made by other clients",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.App(cmd.Context())
			if err != nil {
				return err
			}
			k, err := resolveKind(a, args[0], false)
			if err != nil {
				return err
			}
			rows, stop, err := k.List(cmd.Context())
			if err != nil {
				return err
			}
			defer stop()
			return watchRows(cmd.Context(), cmd.OutOrStdout(), rows)
		},
	}
}

func watchRows(ctx context.Context, w io.Writer, rows *live.Value[[]row]) error {
	header := color.New(color.FgCyan, color.Bold)
	for list := range rows.Watch(ctx, 1) {
		header.Fprintf(w, "-- %s (%d) --\n", time.Now().Format("15:04:05"), len(list))
		sorted := append([]row(nil), list...)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].UpdatedAt.After(sorted[j].UpdatedAt) })
		if err := writeRows(w, sorted); err != nil {
			return err
		}
	}
	return nil
}

func newCronCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Manage worker cron triggers",
	}
	printCrons := func(cmd *cobra.Command, h *live.Value[resource.Worker]) error {
		return writeJSON(cmd.OutOrStdout(), h.Get().Crons)
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <workerId> <expression>",
			Short: "Add a cron trigger",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := e.App(cmd.Context())
				if err != nil {
					return err
				}
				h, err := a.Workers.CreateCron(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return printCrons(cmd, h)
			},
		},
		&cobra.Command{
			Use:   "update <cronId> <expression>",
			Short: "Change a cron expression",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := e.App(cmd.Context())
				if err != nil {
					return err
				}
				h, err := a.Workers.UpdateCron(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return printCrons(cmd, h)
			},
		},
		&cobra.Command{
			Use:   "delete <cronId>",
			Short: "Remove a cron trigger",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := e.App(cmd.Context())
				if err != nil {
					return err
				}
				h, err := a.Workers.DeleteCron(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printCrons(cmd, h)
			},
		},
	)
	return cmd
}

func newNameCheckCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "name-exists <workerName>",
		Short: "Check whether a worker name is taken",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.App(cmd.Context())
			if err != nil {
				return err
			}
			taken, err := a.Workers.NameExists(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), taken)
			return nil
		},
	}
}
