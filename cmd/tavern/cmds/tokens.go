package cmds

import (
	"context"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/go-go-golems/tavern/pkg/conversation"
	"github.com/go-go-golems/tavern/pkg/tokens"
)

type TokensSettings struct {
	Session        string `glazed.parameter:"session"`
	StoreDriver    string `glazed.parameter:"store-driver"`
	StorePath      string `glazed.parameter:"store-path"`
	PageSize       int    `glazed.parameter:"page-size"`
	WindowCapacity int    `glazed.parameter:"window-capacity"`
	Model          string `glazed.parameter:"model"`
	Records        bool   `glazed.parameter:"records"`
}

func (s *TokensSettings) storeFlags() *StoreFlags {
	return &StoreFlags{
		Session:        s.Session,
		StoreDriver:    s.StoreDriver,
		StorePath:      s.StorePath,
		PageSize:       s.PageSize,
		WindowCapacity: s.WindowCapacity,
	}
}

type TokensCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = (*TokensCommand)(nil)

func NewTokensCommand() (*TokensCommand, error) {
	glazedParameterLayer, err := settings.NewGlazedParameterLayers()
	if err != nil {
		return nil, err
	}

	flags := append(storeParameters(),
		parameters.NewParameterDefinition(
			"model",
			parameters.ParameterTypeString,
			parameters.WithHelp("Count with the encoding of this model instead of tokens.encoding"),
		),
		parameters.NewParameterDefinition(
			"records",
			parameters.ParameterTypeBool,
			parameters.WithHelp("Emit one row per context record instead of the total"),
			parameters.WithDefault(false),
		),
	)
	return &TokensCommand{
		CommandDescription: cmds.NewCommandDescription(
			"tokens",
			cmds.WithShort("Count the tokens of a session's context window"),
			cmds.WithFlags(flags...),
			cmds.WithLayersList(glazedParameterLayer),
		),
	}, nil
}

func (c *TokensCommand) RunIntoGlazeProcessor(ctx context.Context, parsedLayers *layers.ParsedLayers, gp middlewares.Processor) error {
	s := &TokensSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, s); err != nil {
		return err
	}
	flags := s.storeFlags()
	cfg, err := loadSettings(flags)
	if err != nil {
		return err
	}
	counter, err := cfg.NewTokenCounter()
	if s.Model != "" {
		counter, err = tokens.ForModel(s.Model)
	}
	if err != nil {
		return err
	}

	st, err := cfg.OpenStore()
	if err != nil {
		return err
	}
	defer func() {
		_ = st.Close()
	}()

	sessionID := flags.SessionID()
	records, err := st.GetContextRecords(ctx, sessionID, cfg.WindowCapacity)
	if err != nil {
		return err
	}
	if s.Records {
		return recordTokenRows(ctx, counter, records, gp)
	}
	return totalTokenRow(ctx, counter, sessionID, records, gp)
}

func recordTokenRows(ctx context.Context, counter *tokens.Counter, records []conversation.Record, gp middlewares.Processor) error {
	for _, r := range records {
		n, err := counter.Count(r.Text)
		if err != nil {
			return err
		}
		row := types.NewRow(
			types.MRP("id", r.ID),
			types.MRP("role", string(r.Role)),
			types.MRP("tokens", n),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

func totalTokenRow(ctx context.Context, counter *tokens.Counter, sessionID string, records []conversation.Record, gp middlewares.Processor) error {
	total, err := counter.CountRecords(records)
	if err != nil {
		return err
	}
	return gp.AddRow(ctx, types.NewRow(
		types.MRP("session", sessionID),
		types.MRP("codec", counter.Encoding()),
		types.MRP("records", len(records)),
		types.MRP("tokens", total),
	))
}
