package cmds

import (
	"fmt"

	"github.com/go-go-golems/tavern/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func NewImportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import a JSON or YAML transcript into a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := storeFlagsFromCobra(cmd)
			s, err := loadSettings(flags)
			if err != nil {
				return err
			}
			sessionID := flags.SessionID()
			messages, err := conversation.LoadTranscript(args[0], sessionID)
			if err != nil {
				return err
			}

			st, err := s.OpenStore()
			if err != nil {
				return err
			}
			defer func() {
				_ = st.Close()
			}()

			ctx := cmd.Context()
			for i, msg := range messages {
				if err := st.Insert(ctx, msg); err != nil {
					return errors.Wrapf(err, "message %d of %s", i, args[0])
				}
			}
			log.Debug().Str("session_id", sessionID).Int("messages", len(messages)).Msg("transcript imported")
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "imported %d messages into session %s\n", len(messages), sessionID)
			return err
		},
	}
	addStoreFlags(cmd)
	return cmd
}
