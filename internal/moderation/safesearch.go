package moderation

import (
	"context"
	"fmt"
	"os"
	"strings"

	vision "cloud.google.com/go/vision/v2/apiv1"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"

	"github.com/reelsmith/reelsmith-backend/internal/platform/logger"
)

// Checker answers whether a reference image is safe to feed into brand-safe
// renders. Implementations err on the side of flagging.
type Checker interface {
	Flagged(ctx context.Context, imagePath string) (bool, error)
	Close() error
}

type safeSearch struct {
	log       *logger.Logger
	client    *vision.ImageAnnotatorClient
	threshold visionpb.Likelihood
}

// NewSafeSearch builds a Cloud Vision SafeSearch checker. Strictness maps to
// the likelihood floor: strict flags POSSIBLE and above, standard flags
// LIKELY and above.
func NewSafeSearch(ctx context.Context, log *logger.Logger, strictness string) (Checker, error) {
	client, err := vision.NewImageAnnotatorClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}
	threshold := visionpb.Likelihood_LIKELY
	if strings.EqualFold(strings.TrimSpace(strictness), "strict") {
		threshold = visionpb.Likelihood_POSSIBLE
	}
	return &safeSearch{
		log:       log.With("service", "SafeSearchChecker"),
		client:    client,
		threshold: threshold,
	}, nil
}

func (s *safeSearch) Flagged(ctx context.Context, imagePath string) (bool, error) {
	content, err := os.ReadFile(imagePath)
	if err != nil {
		return false, fmt.Errorf("read image: %w", err)
	}
	req := &visionpb.AnnotateImageRequest{
		Image: &visionpb.Image{Content: content},
		Features: []*visionpb.Feature{
			{Type: visionpb.Feature_SAFE_SEARCH_DETECTION},
		},
	}
	resp, err := s.client.BatchAnnotateImages(ctx, &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{req},
	})
	if err != nil {
		return false, fmt.Errorf("vision BatchAnnotateImages: %w", err)
	}
	if len(resp.GetResponses()) == 0 {
		return false, fmt.Errorf("vision returned no responses")
	}
	ann := resp.GetResponses()[0].GetSafeSearchAnnotation()
	if ann == nil {
		return false, nil
	}
	for category, likelihood := range map[string]visionpb.Likelihood{
		"adult":    ann.GetAdult(),
		"violence": ann.GetViolence(),
		"racy":     ann.GetRacy(),
		"medical":  ann.GetMedical(),
	} {
		if likelihood >= s.threshold {
			s.log.Warn("image flagged", "category", category, "likelihood", likelihood.String())
			return true, nil
		}
	}
	return false, nil
}

func (s *safeSearch) Close() error {
	return s.client.Close()
}
