package cli

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"owconsole/internal/storagecheck"
)

func newStorageCmd(_ *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Storage helpers",
	}
	cmd.AddCommand(newStorageVerifyCmd())
	return cmd
}

func newStorageVerifyCmd() *cobra.Command {
	var cfg storagecheck.Config
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check custom S3 credentials against the bucket before creating a storage config",
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := storagecheck.New(cfg)
			if err != nil {
				return err
			}
			res, err := v.Verify(cmd.Context())
			if err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "bucket %s reachable at %s", res.Bucket, res.Endpoint)
			if res.Probed {
				fmt.Fprint(cmd.OutOrStdout(), " (write probe ok)")
			}
			fmt.Fprintf(cmd.OutOrStdout(), " in %s\n", res.Latency.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().StringVar(&cfg.Endpoint, "endpoint", "", "S3 endpoint (empty for AWS)")
	cmd.Flags().StringVar(&cfg.Region, "region", "", "Region")
	cmd.Flags().StringVar(&cfg.Bucket, "bucket", "", "Bucket")
	cmd.Flags().StringVar(&cfg.Prefix, "prefix", "", "Key prefix used by the probe")
	cmd.Flags().StringVar(&cfg.AccessKey, "access-key", "", "Access key id")
	cmd.Flags().StringVar(&cfg.SecretKey, "secret-key", "", "Secret access key")
	cmd.Flags().BoolVar(&cfg.Probe, "probe", false, "Also write and remove a marker object")
	_ = cmd.MarkFlagRequired("bucket")
	return cmd
}
