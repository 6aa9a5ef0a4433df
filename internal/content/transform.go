package content

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/scriptgate/scriptgate/internal/config"
)

// Loader supplies the raw script body.
type Loader interface {
	Load(ctx context.Context) ([]byte, error)
}

// Renderer turns the raw script into the response body for a granted caller:
// a console line carrying the status, followed by the script in the
// configured form.
type Renderer struct {
	loader Loader
	mode   string
	banner string
}

// NewRenderer validates mode and returns a renderer.
func NewRenderer(loader Loader, mode, banner string) (*Renderer, error) {
	switch mode {
	case config.TransformEncode, config.TransformPassthrough:
	default:
		return nil, fmt.Errorf("unknown transform mode %q", mode)
	}
	return &Renderer{loader: loader, mode: mode, banner: banner}, nil
}

// Transform implements access.Transformer.
func (r *Renderer) Transform(ctx context.Context, status string) ([]byte, error) {
	body, err := r.loader.Load(ctx)
	if err != nil {
		return nil, err
	}

	out := StatusLine(r.banner, status)
	switch r.mode {
	case config.TransformPassthrough:
		out = append(out, body...)
	default:
		out = append(out, encode(body)...)
	}
	return out, nil
}

// StatusLine renders the first line of a granted response.
func StatusLine(banner, status string) []byte {
	msg := status
	if banner != "" {
		msg = banner + ": " + status
	}
	// json.Marshal of a string yields a valid JS string literal.
	lit, _ := json.Marshal(msg)
	return []byte(fmt.Sprintf("console.log(%s);\n", lit))
}

// encode wraps body in a loader that decodes it in the browser. The
// TextDecoder step keeps non-ASCII source intact.
func encode(body []byte) []byte {
	b64 := base64.StdEncoding.EncodeToString(body)
	return []byte(`(function(){var s=atob("` + b64 + `");var b=new Uint8Array(s.length);` +
		`for(var i=0;i<s.length;i++){b[i]=s.charCodeAt(i);}` +
		`(0,eval)(new TextDecoder().decode(b));})();` + "\n")
}
