package drawing

import (
	"image"
	"io"

	"github.com/disintegration/imaging"
	"gorgonia.org/tensor"

	"github.com/airscribe/airscribe/server/internal/normalize"
)

// DefaultSize is the side length the drawing model was trained on.
const DefaultSize = 32

// Preprocessor converts uploaded drawings into classifier input.
type Preprocessor struct {
	size int
}

// New returns a Preprocessor producing size×size inputs.
func New(size int) *Preprocessor {
	if size <= 0 {
		size = DefaultSize
	}
	return &Preprocessor{size: size}
}

// Decode reads an image from r and preprocesses it. Undecodable input is a
// normalize.ErrPreprocessing failure.
func (p *Preprocessor) Decode(r io.Reader) (*tensor.Dense, error) {
	img, err := imaging.Decode(r)
	if err != nil {
		return nil, &normalize.Error{Kind: normalize.ErrNumericCoercion, Row: -1, Col: -1, Detail: "decode image", Err: err}
	}
	return p.Tensor(img), nil
}

// Tensor converts img: white strokes on black, values in [0, 1].
func (p *Preprocessor) Tensor(img image.Image) *tensor.Dense {
	g := imaging.Grayscale(img)
	g = imaging.Resize(g, p.size, p.size, imaging.Linear)
	g = imaging.Invert(g)

	backing := make([]float32, p.size*p.size)
	for y := 0; y < p.size; y++ {
		for x := 0; x < p.size; x++ {
			// Grayscale leaves R == G == B.
			backing[y*p.size+x] = float32(g.Pix[y*g.Stride+x*4]) / 255
		}
	}
	return tensor.New(tensor.WithShape(1, p.size, p.size, 1), tensor.WithBacking(backing))
}
