package cmds

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/go-go-golems/tavern/pkg/config"
	"github.com/go-go-golems/tavern/pkg/render"
	"github.com/go-go-golems/tavern/pkg/segment"
	"github.com/go-go-golems/tavern/pkg/styling"
	"github.com/spf13/cobra"
)

var pairColors = []lipgloss.Color{"212", "86", "214", "141", "39", "203"}

// Painter renders styled runs for a terminal. Emphasized runs are bold and
// colored by bracket type.
type Painter struct {
	plain  lipgloss.Style
	styles []lipgloss.Style
}

func NewPainter() *Painter {
	return NewPainterWithRenderer(lipgloss.DefaultRenderer())
}

func NewPainterWithRenderer(r *lipgloss.Renderer) *Painter {
	p := &Painter{plain: r.NewStyle()}
	for _, c := range pairColors {
		p.styles = append(p.styles, r.NewStyle().Bold(true).Foreground(c))
	}
	return p
}

func (p *Painter) Paint(runs []styling.Run) string {
	var sb strings.Builder
	for _, r := range runs {
		if r.Style != styling.StyleEmphasized || r.Pair == styling.NoPair {
			sb.WriteString(p.plain.Render(r.Text))
			continue
		}
		sb.WriteString(p.styles[r.Pair%len(p.styles)].Render(r.Text))
	}
	return sb.String()
}

// PaintInstructions paints plain instructions and prints markup as is.
func (p *Painter) PaintInstructions(instructions []render.Instruction) string {
	var sb strings.Builder
	for _, inst := range instructions {
		if inst.Runs != nil {
			sb.WriteString(p.Paint(inst.Runs))
			continue
		}
		sb.WriteString(inst.Text)
	}
	return sb.String()
}

type TextSettings struct {
	Text []string `glazed.parameter:"text"`
}

type StyleSettings struct {
	Text     []string `glazed.parameter:"text"`
	WithText bool     `glazed.parameter:"with-text"`
}

type SegmentSettings struct {
	Text []string `glazed.parameter:"text"`
	Raw  bool     `glazed.parameter:"raw"`
}

func textArgument() *parameters.ParameterDefinition {
	return parameters.NewParameterDefinition(
		"text",
		parameters.ParameterTypeStringList,
		parameters.WithHelp("Text to process, read from stdin when empty"),
	)
}

func newTextCommandDescription(name string, short string, flags ...*parameters.ParameterDefinition) (*cmds.CommandDescription, error) {
	glazedParameterLayer, err := settings.NewGlazedParameterLayers()
	if err != nil {
		return nil, err
	}
	return cmds.NewCommandDescription(
		name,
		cmds.WithShort(short),
		cmds.WithFlags(flags...),
		cmds.WithArguments(textArgument()),
		cmds.WithLayersList(glazedParameterLayer),
	), nil
}

type StyleCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = (*StyleCommand)(nil)

func NewStyleCommand() (*StyleCommand, error) {
	description, err := newTextCommandDescription(
		"style",
		"Classify bracket emphasis in text, one row per range",
		parameters.NewParameterDefinition(
			"with-text",
			parameters.ParameterTypeBool,
			parameters.WithHelp("Add the text of every range"),
			parameters.WithDefault(true),
		),
	)
	if err != nil {
		return nil, err
	}
	return &StyleCommand{CommandDescription: description}, nil
}

func (c *StyleCommand) RunIntoGlazeProcessor(ctx context.Context, parsedLayers *layers.ParsedLayers, gp middlewares.Processor) error {
	s := &StyleSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, s); err != nil {
		return err
	}
	cfg, err := loadSettings(&StoreFlags{})
	if err != nil {
		return err
	}
	styler, err := cfg.NewStyler()
	if err != nil {
		return err
	}
	text, err := readText(s.Text, stdin())
	if err != nil {
		return err
	}
	return styleRows(ctx, styler, text, s.WithText, gp)
}

// styleRows emits one row per range. Bracket names come from the styler's
// pairs, plain ranges have none.
func styleRows(ctx context.Context, styler *styling.Styler, text string, withText bool, gp middlewares.Processor) error {
	pairs := styler.Pairs()
	runs := styler.Runs(text)
	for i, r := range styler.Classify(text) {
		name := ""
		if r.Pair != styling.NoPair {
			name = pairs[r.Pair].Name
		}
		row := types.NewRow(
			types.MRP("start", r.Start),
			types.MRP("end", r.End),
			types.MRP("style", r.Style.String()),
			types.MRP("pair", name),
		)
		if withText {
			row.Set("text", runs[i].Text)
		}
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

type SegmentCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = (*SegmentCommand)(nil)

func NewSegmentCommand() (*SegmentCommand, error) {
	description, err := newTextCommandDescription(
		"segment",
		"Split text into plain text and markup blocks, one row per segment",
		parameters.NewParameterDefinition(
			"raw",
			parameters.ParameterTypeBool,
			parameters.WithHelp("Do not merge adjacent markup blocks"),
			parameters.WithDefault(false),
		),
	)
	if err != nil {
		return nil, err
	}
	return &SegmentCommand{CommandDescription: description}, nil
}

func (c *SegmentCommand) RunIntoGlazeProcessor(ctx context.Context, parsedLayers *layers.ParsedLayers, gp middlewares.Processor) error {
	s := &SegmentSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, s); err != nil {
		return err
	}
	cfg, err := loadSettings(&StoreFlags{})
	if err != nil {
		return err
	}
	segmenter, err := cfg.NewSegmenter()
	if err != nil {
		return err
	}
	text, err := readText(s.Text, stdin())
	if err != nil {
		return err
	}
	segments := segmenter.Split(text)
	if s.Raw {
		segments = segmenter.SplitRaw(text)
	}
	return segmentRows(ctx, segments, gp)
}

func segmentRows(ctx context.Context, segments []segment.Segment, gp middlewares.Processor) error {
	for i, seg := range segments {
		row := types.NewRow(
			types.MRP("index", i),
			types.MRP("kind", seg.Kind.String()),
			types.MRP("text", seg.Text),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

type RenderCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = (*RenderCommand)(nil)

func NewRenderCommand() (*RenderCommand, error) {
	description, err := newTextCommandDescription("render", "Print the render instructions for text, one row per region")
	if err != nil {
		return nil, err
	}
	return &RenderCommand{CommandDescription: description}, nil
}

func (c *RenderCommand) RunIntoGlazeProcessor(ctx context.Context, parsedLayers *layers.ParsedLayers, gp middlewares.Processor) error {
	s := &TextSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, s); err != nil {
		return err
	}
	cfg, err := loadSettings(&StoreFlags{})
	if err != nil {
		return err
	}
	pipeline, err := newPipeline(cfg)
	if err != nil {
		return err
	}
	text, err := readText(s.Text, stdin())
	if err != nil {
		return err
	}
	instructions, err := pipeline.Prepare(text)
	if err != nil {
		return err
	}
	return renderRows(ctx, instructions, gp)
}

// renderRows emits one row per instruction. Plain regions report their run
// counts, markup regions their HTML.
func renderRows(ctx context.Context, instructions []render.Instruction, gp middlewares.Processor) error {
	for i, inst := range instructions {
		emphasized := 0
		for _, r := range inst.Runs {
			if r.Style == styling.StyleEmphasized {
				emphasized++
			}
		}
		row := types.NewRow(
			types.MRP("index", i),
			types.MRP("kind", inst.Kind.String()),
			types.MRP("text", inst.Text),
			types.MRP("runs", len(inst.Runs)),
			types.MRP("emphasized", emphasized),
			types.MRP("html", inst.HTML),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

// NewPaintCommand prints text with its emphasized runs colored for the
// terminal. Markup blocks are printed as they are.
func NewPaintCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "paint [text...]",
		Short: "Print text with bracket emphasis colored",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings(&StoreFlags{})
			if err != nil {
				return err
			}
			pipeline, err := newPipeline(cfg)
			if err != nil {
				return err
			}
			text, err := readText(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			instructions, err := pipeline.Prepare(text)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), NewPainter().PaintInstructions(instructions))
			return err
		},
	}
}

func newPipeline(cfg *config.Settings) (*render.Pipeline, error) {
	styler, err := cfg.NewStyler()
	if err != nil {
		return nil, err
	}
	segmenter, err := cfg.NewSegmenter()
	if err != nil {
		return nil, err
	}
	return render.New(render.WithStyler(styler), render.WithSegmenter(segmenter)), nil
}
