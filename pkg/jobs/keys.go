package jobs

import (
	"fmt"
	"path"
	"strings"
)

// Default output suffixes of the annotation tool.
const (
	ResultSuffix = ".annot.vcf"
	LogSuffix    = ".vcf.count.log"
)

// KeySeparator joins the job id and the original file name in object keys.
const KeySeparator = "~"

// InputKey is a parsed input object key: {account}/{user}/{job_id}~{file}.
type InputKey struct {
	Account  string
	User     string
	JobID    string
	FileName string
}

// ParseInputKey splits an input object key into its segments.
func ParseInputKey(key string) (InputKey, error) {
	parts := strings.Split(strings.TrimPrefix(key, "/"), "/")
	if len(parts) != 3 {
		return InputKey{}, fmt.Errorf("input key %q: want {account}/{user}/{job_id}~{file}", key)
	}
	jobID, file, ok := strings.Cut(parts[2], KeySeparator)
	if !ok || jobID == "" || file == "" {
		return InputKey{}, fmt.Errorf("input key %q: missing %q separator", key, KeySeparator)
	}
	if parts[0] == "" || parts[1] == "" {
		return InputKey{}, fmt.Errorf("input key %q: empty account or user", key)
	}
	return InputKey{Account: parts[0], User: parts[1], JobID: jobID, FileName: file}, nil
}

// String rebuilds the key.
func (k InputKey) String() string {
	return k.Account + "/" + k.User + "/" + k.JobID + KeySeparator + k.FileName
}

// JobPath returns {account}/{user}/{job_id}, the job's path segment.
func (k InputKey) JobPath() string {
	return path.Join(k.Account, k.User, k.JobID)
}

// JobPathFromKey derives the job path segment from either an input key
// ({account}/{user}/{job_id}~{file}) or an output key
// ({account}/{user}/{job_id}/{job_id}~{stem}{suffix}).
func JobPathFromKey(key string) (string, error) {
	key = strings.TrimPrefix(key, "/")
	base := path.Base(key)
	jobID, _, ok := strings.Cut(base, KeySeparator)
	if !ok || jobID == "" {
		return "", fmt.Errorf("key %q: missing %q separator", key, KeySeparator)
	}
	dir := path.Dir(key)
	if dir == "." || dir == "/" {
		return "", fmt.Errorf("key %q: missing account/user prefix", key)
	}
	if path.Base(dir) == jobID {
		return dir, nil
	}
	return path.Join(dir, jobID), nil
}

// OutputKey returns {account}/{user}/{job_id}/{stem}{suffix}, where stem is
// the local input file name without its extension.
func OutputKey(account, user, jobID, inputFile, suffix string) string {
	base := path.Base(inputFile)
	stem := strings.TrimSuffix(base, path.Ext(base))
	return path.Join(account, user, jobID, stem+suffix)
}
