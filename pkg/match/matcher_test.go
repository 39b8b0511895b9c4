package match

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		cfg         Config
		wantErr     error
		wantErrType interface{}
	}{
		{
			name: "valid single include",
			cfg:  Config{Includes: []string{"**/*.fastq.gz"}},
		},
		{
			name: "valid with excludes",
			cfg:  Config{Includes: []string{"**/*.fastq.gz"}, Excludes: []string{"**/Undetermined_*"}},
		},
		{
			name:    "no includes",
			cfg:     Config{},
			wantErr: ErrNoIncludes,
		},
		{
			name:        "invalid include pattern",
			cfg:         Config{Includes: []string{"[invalid"}},
			wantErrType: &PatternError{},
		},
		{
			name:        "invalid exclude pattern",
			cfg:         Config{Includes: []string{"**"}, Excludes: []string{"[invalid"}},
			wantErrType: &PatternError{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(tt.cfg)
			switch {
			case tt.wantErr != nil:
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr))
				assert.Nil(t, m)
			case tt.wantErrType != nil:
				require.Error(t, err)
				assert.IsType(t, tt.wantErrType, err)
				assert.True(t, errors.Is(err, ErrInvalidPattern))
				assert.Nil(t, m)
			default:
				require.NoError(t, err)
				assert.NotNil(t, m)
			}
		})
	}
}

func TestMatcher_Match(t *testing.T) {
	m, err := New(Config{
		Includes: []string{"**/*.fastq.gz"},
		Excludes: []string{"**/Undetermined_*"},
	})
	require.NoError(t, err)

	tests := []struct {
		path string
		want bool
	}{
		{"S1_R1_001.fastq.gz", true},
		{"Lane1/S1_R2_001.fastq.gz", true},
		{"Lane1/deep/S1_R2_001.fastq.gz", true},
		{"S1_R1_001.fastq", false},
		{"Undetermined_S0_R1_001.fastq.gz", false},
		{"Lane1/Undetermined_S0_R1_001.fastq.gz", false},
		{".snapshot/S1_R1_001.fastq.gz", false},
		{"Lane1/._S1_R1_001.fastq.gz", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Match(tt.path))
		})
	}
}

func TestMatcher_IncludeHidden(t *testing.T) {
	m, err := New(Config{Includes: []string{"**/*.fastq.gz"}, IncludeHidden: true})
	require.NoError(t, err)
	assert.True(t, m.Match(".snapshot/S1_R1_001.fastq.gz"))
}

func TestNormalizePattern(t *testing.T) {
	assert.Equal(t, "", NormalizePattern(""))
	assert.Equal(t, "Data/Fastq/**", NormalizePattern(`Data\Fastq\**`))
	assert.Equal(t, `run/file\*.txt`, NormalizePattern(`run/file\*.txt`))
	assert.Equal(t, "a/", NormalizePattern(`a\`))
}

func TestIsHidden(t *testing.T) {
	assert.False(t, IsHidden(""))
	assert.False(t, IsHidden("a/b.fastq.gz"))
	assert.True(t, IsHidden(".a/b.fastq.gz"))
	assert.True(t, IsHidden("a/.b.fastq.gz"))
	assert.False(t, IsHidden("a/b."))
}
