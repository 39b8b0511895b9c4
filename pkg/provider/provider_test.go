package provider

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDestination(t *testing.T) {
	tests := []struct {
		in   string
		want Destination
	}{
		{"s3://reports/runs/2026/run.jsonl", Destination{Provider: ProviderS3, Bucket: "reports", Key: "runs/2026/run.jsonl"}},
		{"S3://b/k.jsonl", Destination{Provider: ProviderS3, Bucket: "b", Key: "k.jsonl"}},
		{"/data/out/run.jsonl", Destination{Provider: ProviderFile, Bucket: "/data/out", Key: "run.jsonl"}},
		{"file:///data/out/run.jsonl", Destination{Provider: ProviderFile, Bucket: "/data/out", Key: "run.jsonl"}},
		{"run.jsonl", Destination{Provider: ProviderFile, Bucket: ".", Key: "run.jsonl"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDestination(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestParseDestination_Errors(t *testing.T) {
	tests := []struct {
		in   string
		want error
	}{
		{"", ErrInvalidURI},
		{"gs://bucket/key", ErrUnsupportedProvider},
		{"s3://", ErrMissingBucket},
		{"s3:///key", ErrMissingBucket},
		{"s3://bucket", ErrInvalidURI},
		{"s3://bucket/prefix/", ErrInvalidURI},
		{"/data/out/", ErrInvalidURI},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			_, err := ParseDestination(tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDestination_String(t *testing.T) {
	assert.Equal(t, "s3://b/k.jsonl", (&Destination{Provider: ProviderS3, Bucket: "b", Key: "k.jsonl"}).String())
	assert.Equal(t, filepath.Join("/out", "r.jsonl"), (&Destination{Provider: ProviderFile, Bucket: "/out", Key: "r.jsonl"}).String())
}

func TestProviderError(t *testing.T) {
	err := &ProviderError{Op: "Put", Provider: ProviderS3, Bucket: "b", Key: "k", Err: ErrAccessDenied}
	assert.Equal(t, "s3 Put: b/k: access denied", err.Error())
	assert.True(t, errors.Is(err, ErrAccessDenied))

	throttled := &ProviderError{Op: "Put", Provider: ProviderS3, Err: ErrThrottled}
	assert.Equal(t, "s3 Put: request throttled", throttled.Error())
}

func TestErrorClasses(t *testing.T) {
	cases := []struct {
		err                         error
		notFound, denied, transient bool
	}{
		{ErrNotFound, true, false, false},
		{ErrBucketNotFound, true, false, false},
		{ErrAccessDenied, false, true, false},
		{ErrInvalidCredentials, false, true, false},
		{ErrThrottled, false, false, true},
		{ErrProviderUnavailable, false, false, true},
		{errors.New("connection reset"), false, false, false},
	}
	for _, tc := range cases {
		wrapped := fmt.Errorf("publish report: %w", &ProviderError{Op: "Put", Provider: ProviderS3, Err: tc.err})
		assert.Equal(t, tc.notFound, IsNotFound(wrapped), tc.err.Error())
		assert.Equal(t, tc.denied, IsAccessDenied(wrapped), tc.err.Error())
		assert.Equal(t, tc.transient, IsTransient(wrapped), tc.err.Error())
	}
}
