// Package conditioning produces and refines the text-conditioning
// embeddings: the initial null/prompt pair, gradient-based negation of the
// null embedding against image features, and lookahead prompt tuning.
package conditioning

import (
	"fmt"

	"github.com/ldmsolve/ldmsolve/grad"
	"github.com/ldmsolve/ldmsolve/ml"
	"github.com/ldmsolve/ldmsolve/optim"
)

// Provider turns prompts into embeddings over the pretrained text encoder,
// optionally paired with an image embedder for adaptive negation.
type Provider struct {
	Text  ml.TextEncoder
	Image ml.ImageEmbedder
}

// TextEmbeddings encodes the null prompt and the prompt in independent
// passes and returns the (unconditional, conditional) pair.
func (p *Provider) TextEmbeddings(nullPrompt, prompt string) (uc, c *ml.Tensor, err error) {
	uc, err = p.embed(nullPrompt)
	if err != nil {
		return nil, nil, fmt.Errorf("null prompt: %w", err)
	}
	c, err = p.embed(prompt)
	if err != nil {
		return nil, nil, fmt.Errorf("prompt: %w", err)
	}
	return uc, c, nil
}

func (p *Provider) embed(text string) (*ml.Tensor, error) {
	ids, err := p.Text.Tokenize(text)
	if err != nil {
		return nil, err
	}
	return p.Text.Embed(ids)
}

// AdaptiveNegation returns a refined copy of the null embedding that points
// away from the current estimate x0: the image features of x0 are
// L2-normalized and the mean inner product between them and the embedding
// rows is minimized with Adam. uc itself is not modified.
func (p *Provider) AdaptiveNegation(x0, uc *ml.Tensor, lr float64, iters int) (*ml.Tensor, error) {
	if p.Image == nil {
		return nil, fmt.Errorf("conditioning: adaptive negation requires an image embedder")
	}
	feat, err := p.Image.EmbedImage(x0)
	if err != nil {
		return nil, fmt.Errorf("image features: %w", err)
	}
	if n := ml.Norm(feat); n > 0 {
		feat = ml.Scale(feat, 1/n)
	}

	out := uc.Clone()
	opt := optim.NewAdam(out.Numel(), lr)
	for i := 0; i < iters; i++ {
		tp := grad.NewTape()
		node := tp.Watch(out)
		loss := tp.MeanInner(feat, node)
		g, err := tp.Gradient(loss, node)
		if err != nil {
			return nil, err
		}
		opt.StepTensor(out, g)
	}
	return out, nil
}
