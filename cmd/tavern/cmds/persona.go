package cmds

import (
	"strconv"
	"strings"

	"github.com/go-go-golems/tavern/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// ParsePersona parses id[:weight[:kw1,kw2]]. The weight defaults to 1.
func ParsePersona(s string) (conversation.PersonaRef, error) {
	parts := strings.SplitN(s, ":", 3)
	p := conversation.PersonaRef{ID: strings.TrimSpace(parts[0]), ResponseWeight: 1}
	p.Name = p.ID
	if len(parts) > 1 && parts[1] != "" {
		w, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return conversation.PersonaRef{}, errors.Wrapf(err, "persona %q: invalid weight", s)
		}
		p.ResponseWeight = w
	}
	if len(parts) > 2 {
		for _, kw := range strings.Split(parts[2], ",") {
			if kw = strings.TrimSpace(kw); kw != "" {
				p.TriggerKeywords = append(p.TriggerKeywords, kw)
			}
		}
	}
	if err := p.Validate(); err != nil {
		return conversation.PersonaRef{}, err
	}
	return p, nil
}

func ParsePersonas(specs []string) ([]conversation.PersonaRef, error) {
	if len(specs) == 0 {
		specs = []string{"narrator"}
	}
	ret := make([]conversation.PersonaRef, 0, len(specs))
	for _, s := range specs {
		p, err := ParsePersona(s)
		if err != nil {
			return nil, err
		}
		ret = append(ret, p)
	}
	return ret, nil
}

// personasFromFlags parses every --persona flag of cmd.
func personasFromFlags(cmd *cobra.Command) ([]conversation.PersonaRef, error) {
	specs, err := cmd.Flags().GetStringArray("persona")
	if err != nil {
		return nil, err
	}
	return ParsePersonas(specs)
}
