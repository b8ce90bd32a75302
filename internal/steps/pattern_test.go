package steps

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompilePattern_literalOnly(t *testing.T) {
	re, err := compilePattern(`I am logged in`)
	require.NoError(t, err)
	require.True(t, re.MatchString("I am logged in"))
	require.False(t, re.MatchString("I am logged in as admin"), "expected anchored end to reject trailing text")
}

func TestCompilePattern_singleCaptureGroup(t *testing.T) {
	re, err := compilePattern(`I echo the message "(.*)"`)
	require.NoError(t, err)

	m := re.FindStringSubmatch(`I echo the message "hello world"`)
	require.NotNil(t, m)
	require.Equal(t, "hello world", m[1])
}

func TestCompilePattern_multipleCaptureGroups(t *testing.T) {
	re, err := compilePattern(`I set (\w+) to (\d+)`)
	require.NoError(t, err)

	m := re.FindStringSubmatch(`I set retries to 3`)
	require.NotNil(t, m)
	require.Equal(t, "retries", m[1])
	require.Equal(t, "3", m[2])
}

func TestCompilePattern_specialCharactersEscaped(t *testing.T) {
	re, err := compilePattern(`the price is $5.00`)
	require.NoError(t, err)
	require.True(t, re.MatchString("the price is $5.00"))
	require.False(t, re.MatchString("the price is $5X00"), "dot must not behave as regex wildcard")
}
