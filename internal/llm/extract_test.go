package llm_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vsaizz/dash-gen/internal/llm"
)

func TestExtractCodeBareBody(t *testing.T) {
	code, err := llm.ExtractCode("import streamlit as st\nst.title('hi')\n")
	require.NoError(t, err)
	assert.Equal(t, "import streamlit as st\nst.title('hi')", code)
}

func TestExtractCodeFencedWithLanguageTag(t *testing.T) {
	resp := "Here is the fixed script:\n```python\nimport pandas as pd\ndata = pd.DataFrame()\n```\nLet me know if it works."
	code, err := llm.ExtractCode(resp)
	require.NoError(t, err)
	assert.Equal(t, "import pandas as pd\ndata = pd.DataFrame()", code)
}

func TestExtractCodeFencedWithoutLanguageTag(t *testing.T) {
	resp := "```\nprint('rows:', len(data))\n```"
	code, err := llm.ExtractCode(resp)
	require.NoError(t, err)
	assert.Equal(t, "print('rows:', len(data))", code)
}

func TestExtractCodeUsesFirstFenceOnly(t *testing.T) {
	resp := "```python\nfirst = 1\n```\nand also\n```python\nsecond = 2\n```"
	code, err := llm.ExtractCode(resp)
	require.NoError(t, err)
	assert.Equal(t, "first = 1", code)
}

func TestExtractCodeUnclosedFenceFallsBackToBody(t *testing.T) {
	resp := "```python\nx = 1"
	code, err := llm.ExtractCode(resp)
	require.NoError(t, err)
	// No complete fence pair: the whole body is returned untouched.
	assert.Equal(t, resp, code)
}

func TestExtractCodeBlankResponse(t *testing.T) {
	_, err := llm.ExtractCode("   \n\t ")
	require.Error(t, err)
	assert.True(t, errors.Is(err, llm.ErrEmptyResponse))
}

func TestExtractCodeEmptyFencedBlock(t *testing.T) {
	_, err := llm.ExtractCode("```python\n```")
	require.Error(t, err)
	assert.True(t, errors.Is(err, llm.ErrEmptyResponse))
}
