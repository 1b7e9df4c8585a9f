package queue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/annflow/pkg/jobs"
)

func snsBody(t *testing.T, payload any) string {
	t.Helper()
	inner, err := json.Marshal(payload)
	require.NoError(t, err)
	outer, err := json.Marshal(map[string]string{
		"Type":      "Notification",
		"MessageId": "m-1",
		"TopicArn":  "arn:aws:sns:us-east-1:000000000000:job_requests.fifo",
		"Message":   string(inner),
	})
	require.NoError(t, err)
	return string(outer)
}

func TestDecode_JobRequest(t *testing.T) {
	body := snsBody(t, map[string]string{
		"job_id":            "j1",
		"user_id":           "u1",
		"input_file_name":   "test.vcf",
		"s3_inputs_bucket":  "gas-inputs",
		"s3_key_input_file": "acct/u1/j1~test.vcf",
		"job_status":        "PENDING",
	})

	var req JobRequest
	require.NoError(t, Decode(Message{ID: "m-1", Body: body}, &req))
	assert.Equal(t, "j1", req.JobID)
	assert.Equal(t, jobs.StatusPending, req.Status)
}

func TestDecode_ParseErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "{{{"},
		{"no Message", `{"Type":"Notification"}`},
		{"payload not json", `{"Message":"nope"}`},
		{"missing job_id", snsBody(t, map[string]string{
			"user_id": "u1", "input_file_name": "f", "s3_inputs_bucket": "b",
			"s3_key_input_file": "k", "job_status": "PENDING",
		})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req JobRequest
			err := Decode(Message{ID: "m-9", Body: tt.body}, &req)
			require.Error(t, err)
			assert.True(t, IsParseError(err))

			var pe *MessageParseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, "m-9", pe.MessageID)
		})
	}
}

func TestDecode_MissingFieldNamed(t *testing.T) {
	var th Thaw
	err := Decode(Message{Body: snsBody(t, map[string]string{"retrieval_id": "r1", "job_id": "j1"})}, &th)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3_key_result_file")
}

func TestDecode_CompletionCarriesRecord(t *testing.T) {
	rec := jobs.Record{
		JobID: "j1", UserID: "u1", Status: jobs.StatusCompleted,
		ResultsBucket: "gas-results", ResultKey: "acct/u1/j1/j1~test.annot.vcf", CompleteTime: 99,
	}
	var c Completion
	require.NoError(t, Decode(Message{Body: snsBody(t, rec)}, &c))
	assert.Equal(t, rec, c.Record)

	rec.ResultKey = ""
	var missing Completion
	err := Decode(Message{Body: snsBody(t, rec)}, &missing)
	require.Error(t, err)
	assert.True(t, IsParseError(err))
	assert.Contains(t, err.Error(), "s3_key_result_file")
}

func TestWrapRoundTrip(t *testing.T) {
	payload, err := Encode(Upgrade{UserID: "u1"})
	require.NoError(t, err)
	body, err := Wrap(payload, "m-2")
	require.NoError(t, err)

	var up Upgrade
	require.NoError(t, Decode(Message{Body: body}, &up))
	assert.Equal(t, "u1", up.UserID)
}
