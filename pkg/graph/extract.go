package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/casetrail/backend/internal/util"
	"github.com/casetrail/backend/pkg/ai"
	"github.com/casetrail/backend/pkg/common"
)

// allowedTypes is the type vocabulary offered to the extraction model.
// Unknown stays internal; the model should always commit to a type and
// unrecognized answers degrade to Unknown during parsing.
var allowedTypes = []common.EntityType{
	common.EntityPerson,
	common.EntityLocation,
	common.EntityObject,
	common.EntityEvent,
	common.EntityOrganization,
}

type extractResponse struct {
	Entities      []CandidateEntity       `json:"entities" jsonschema_description:"Every concrete entity the text mentions"`
	Relationships []CandidateRelationship `json:"relationships" jsonschema_description:"Directed relationships between the listed entities"`
}

// extractFromText runs one schema-constrained extraction call over a chunk
// of narrative text, retrying transient failures. hints are the canonical
// labels already in the case graph.
func extractFromText(
	ctx context.Context,
	client ai.CaseAIClient,
	text string,
	hints []string,
	maxTries int,
) ([]CandidateEntity, []CandidateRelationship, error) {
	types := make([]string, 0, len(allowedTypes))
	for _, t := range allowedTypes {
		types = append(types, string(t))
	}

	hintBlock := ""
	if len(hints) > 0 {
		hintBlock = fmt.Sprintf(ai.ExtractHintBlock, strings.Join(hints, ", "))
	}
	systemPrompt := fmt.Sprintf(ai.ExtractPrompt, strings.Join(types, ", "), hintBlock)

	response, err := util.RetryWithContext(ctx, maxTries, func(ctx context.Context) (*extractResponse, error) {
		var out extractResponse
		err := client.GenerateCompletionWithFormat(
			ctx,
			"extract_case_graph",
			"Entities and relationships extracted from investigation narrative.",
			text,
			&out,
			ai.WithSystemPrompts(systemPrompt),
		)
		if err != nil {
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		return nil, nil, err
	}

	return response.Entities, response.Relationships, nil
}
