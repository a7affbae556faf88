// internal/onboarding/franchises/search.go
package franchises

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	apperrors "merchant-onboarding/internal/common/errors"
	"merchant-onboarding/internal/models"

	"github.com/elastic/go-elasticsearch/v8/esapi"
)

func buildSearchQuery(query string) map[string]interface{} {
	return map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": []interface{}{
					map[string]interface{}{
						"multi_match": map[string]interface{}{
							"query":  query,
							"fields": []string{"displayName^3", "legalName", "city"},
							"type":   "bool_prefix",
						},
					},
				},
				"filter": []interface{}{
					map[string]interface{}{
						"term": map[string]interface{}{"status": approvedStatus},
					},
				},
			},
		},
		"_source": []string{"id", "displayName"},
		"sort": []interface{}{
			"_score",
			map[string]interface{}{"displayName.keyword": map[string]interface{}{"order": "asc"}},
		},
	}
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string          `json:"_id"`
			Source models.Franchise `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (d *Directory) search(ctx context.Context, query string) ([]models.FranchiseOption, error) {
	body, err := json.Marshal(buildSearchQuery(query))
	if err != nil {
		return nil, apperrors.NewSearchQueryFailedError(d.config.Index, err)
	}

	size := d.config.SearchSize
	req := esapi.SearchRequest{
		Index: []string{d.config.Index},
		Body:  bytes.NewReader(body),
		Size:  &size,
	}

	res, err := req.Do(ctx, d.es)
	if err != nil {
		return nil, apperrors.NewSearchQueryFailedError(d.config.Index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, apperrors.NewSearchQueryFailedError(d.config.Index, fmt.Errorf("search failed: %s", res.Status()))
	}

	var r searchResponse
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return nil, apperrors.NewSearchQueryFailedError(d.config.Index, err)
	}

	options := make([]models.FranchiseOption, 0, len(r.Hits.Hits))
	for _, hit := range r.Hits.Hits {
		f := hit.Source
		if f.ID == "" {
			f.ID = hit.ID
		}
		options = append(options, f.Option())
	}
	return options, nil
}
