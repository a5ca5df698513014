package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/aristath/swingbot/internal/di"
)

var errNoBucket = errors.New("backups need ARTIFACT_BUCKET to be configured")

func (a *app) newBackupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the database and model artifacts to the artifact bucket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := a.wire(cmd.Context())
			if err != nil {
				return err
			}
			defer container.Close()

			if container.Mirror == nil {
				return errNoBucket
			}

			key, err := di.NewBackupService(container, a.cfg, a.log).CreateAndUpload(cmd.Context())
			if err != nil {
				return err
			}
			a.printf("Uploaded %s\n", key)
			return nil
		},
	}
}
