package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInputKey(t *testing.T) {
	k, err := ParseInputKey("acct/user-1/b94b246e~test.vcf")
	require.NoError(t, err)
	assert.Equal(t, InputKey{Account: "acct", User: "user-1", JobID: "b94b246e", FileName: "test.vcf"}, k)
	assert.Equal(t, "acct/user-1/b94b246e", k.JobPath())
	assert.Equal(t, "acct/user-1/b94b246e~test.vcf", k.String())

	for _, bad := range []string{
		"",
		"acct/b94b246e~test.vcf",
		"acct/user-1/b94b246e-test.vcf",
		"acct/user-1/~test.vcf",
		"acct//b94b246e~test.vcf",
		"acct/user-1/extra/b94b246e~test.vcf",
	} {
		_, err := ParseInputKey(bad)
		assert.Error(t, err, bad)
	}
}

func TestJobPathFromKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"acct/u/j1~test.vcf", "acct/u/j1"},
		{"acct/u/j1/j1~test.annot.vcf", "acct/u/j1"},
		{"/acct/u/j1/j1~test.vcf.count.log", "acct/u/j1"},
	}
	for _, tt := range tests {
		got, err := JobPathFromKey(tt.key)
		require.NoError(t, err, tt.key)
		assert.Equal(t, tt.want, got)
	}

	_, err := JobPathFromKey("acct/u/j1/result.vcf")
	assert.Error(t, err)
	_, err = JobPathFromKey("j1~test.vcf")
	assert.Error(t, err)
}

func TestOutputKey(t *testing.T) {
	assert.Equal(t, "acct/u/j1/j1~test.annot.vcf",
		OutputKey("acct", "u", "j1", "/data/acct/u/j1/j1~test.vcf", ResultSuffix))
	assert.Equal(t, "acct/u/j1/j1~test.vcf.count.log",
		OutputKey("acct", "u", "j1", "j1~test.vcf", LogSuffix))
}
