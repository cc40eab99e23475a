package llm

import (
	"fmt"
	"strings"
)

// ExtractCode pulls the executable body out of a model response.
//
// The agents are instructed to answer with bare code and no markdown fences,
// but models add them anyway often enough that the caller cannot rely on
// either form. Resolution order:
//
//  1. If the response contains a fenced block (``` or ```python), the content
//     of the first fence is returned.
//  2. Otherwise the whole trimmed response is returned as-is.
//  3. A blank result either way is ErrEmptyResponse.
func ExtractCode(text string) (string, error) {
	body := strings.TrimSpace(text)
	if body == "" {
		return "", fmt.Errorf("%w: nothing to extract", ErrEmptyResponse)
	}

	if fenced, ok := firstFencedBlock(body); ok {
		fenced = strings.TrimSpace(fenced)
		if fenced == "" {
			return "", fmt.Errorf("%w: fenced block is empty", ErrEmptyResponse)
		}
		return fenced, nil
	}

	return body, nil
}

// firstFencedBlock returns the content between the first pair of ``` fence
// lines. The opening fence may carry a language tag. Returns ok=false when no
// complete fence pair exists.
func firstFencedBlock(text string) (string, bool) {
	lines := strings.Split(text, "\n")

	start := -1
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			start = i
			break
		}
	}
	if start == -1 {
		return "", false
	}

	for i := start + 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "```" {
			return strings.Join(lines[start+1:i], "\n"), true
		}
	}
	return "", false
}
