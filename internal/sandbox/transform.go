package sandbox

import (
	"fmt"

	"github.com/evanw/esbuild/pkg/api"
)

// toCommonJS rewrites an ES module body into a CommonJS one that require()
// can evaluate. CommonJS sources pass through unchanged.
func toCommonJS(url, source string) (string, error) {
	result := api.Transform(source, api.TransformOptions{
		Loader:     api.LoaderJS,
		Format:     api.FormatCommonJS,
		Target:     api.ES2020,
		Platform:   api.PlatformNeutral,
		Sourcefile: url,
		LogLevel:   api.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		msg := result.Errors[0]
		if loc := msg.Location; loc != nil {
			return "", fmt.Errorf("%s:%d:%d: %s", url, loc.Line, loc.Column, msg.Text)
		}
		return "", fmt.Errorf("%s: %s", url, msg.Text)
	}
	return string(result.Code), nil
}
