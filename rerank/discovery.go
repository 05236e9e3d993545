package rerank

import (
	"context"
	"fmt"

	"github.com/RobertJohnDavidson/rag-style-check/models"

	"google.golang.org/api/discoveryengine/v1"
	"google.golang.org/api/option"
)

const defaultRankingModel = "semantic-ranker-default@latest"

// DiscoveryEngineScorer scores candidates with the Discovery Engine ranking API
type DiscoveryEngineScorer struct {
	rank          func(ctx context.Context, req *discoveryengine.GoogleCloudDiscoveryengineV1RankRequest) (*discoveryengine.GoogleCloudDiscoveryengineV1RankResponse, error)
	rankingConfig string
	model         string
}

// NewDiscoveryEngineScorer connects to the ranking service for
// projects/{project}/locations/{location}/rankingConfigs/{config}.
func NewDiscoveryEngineScorer(ctx context.Context, project, location, config string, opts ...option.ClientOption) (*DiscoveryEngineScorer, error) {
	svc, err := discoveryengine.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery engine client: %w", err)
	}
	if location == "" {
		location = "global"
	}
	if config == "" {
		config = "default_ranking_config"
	}

	s := &DiscoveryEngineScorer{
		rankingConfig: fmt.Sprintf("projects/%s/locations/%s/rankingConfigs/%s", project, location, config),
		model:         defaultRankingModel,
	}
	s.rank = func(ctx context.Context, req *discoveryengine.GoogleCloudDiscoveryengineV1RankRequest) (*discoveryengine.GoogleCloudDiscoveryengineV1RankResponse, error) {
		return svc.Projects.Locations.RankingConfigs.Rank(s.rankingConfig, req).Context(ctx).Do()
	}
	return s, nil
}

// Name implements Scorer
func (s *DiscoveryEngineScorer) Name() string {
	return "discovery_engine"
}

// Score implements Scorer. Records the service omits score 0.
func (s *DiscoveryEngineScorer) Score(ctx context.Context, query string, candidates []models.CandidateRule, _ models.TuningParameters) ([]float64, error) {
	records := make([]*discoveryengine.GoogleCloudDiscoveryengineV1RankingRecord, len(candidates))
	position := make(map[string]int, len(candidates))
	for i, c := range candidates {
		id := fmt.Sprintf("%d", i)
		position[id] = i
		records[i] = &discoveryengine.GoogleCloudDiscoveryengineV1RankingRecord{
			Id:      id,
			Title:   c.Rule.Name,
			Content: c.Rule.Guideline,
		}
	}

	resp, err := s.rank(ctx, &discoveryengine.GoogleCloudDiscoveryengineV1RankRequest{
		Model:                         s.model,
		Query:                         query,
		Records:                       records,
		TopN:                          int64(len(records)),
		IgnoreRecordDetailsInResponse: true,
	})
	if err != nil {
		return nil, err
	}

	scores := make([]float64, len(candidates))
	for _, rec := range resp.Records {
		if i, ok := position[rec.Id]; ok {
			scores[i] = rec.Score
		}
	}
	return scores, nil
}
