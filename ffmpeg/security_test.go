package ffmpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitCommand(t *testing.T) {
	cmd := `-preset veryfast -crf 23 -vf "scale=1280:-2"`
	expected := []string{"-preset", "veryfast", "-crf", "23", "-vf", "scale=1280:-2"}

	args, err := SplitCommand(cmd)
	assert.NoError(t, err)
	assert.Equal(t, expected, args)

	_, err = SplitCommand(`-vf "unterminated`)
	assert.Error(t, err)
}

func TestValidateExtraArgs(t *testing.T) {
	t.Run("Valid encoder flags", func(t *testing.T) {
		args, _ := SplitCommand(`-preset fast -crf 20 -b:a 192k`)
		assert.NoError(t, ValidateExtraArgs(args))
	})

	t.Run("Reserved input flag", func(t *testing.T) {
		args, _ := SplitCommand(`-i other.mp4`)
		err := ValidateExtraArgs(args)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "managed by the assembler")
	})

	t.Run("Reserved map flag", func(t *testing.T) {
		assert.Error(t, ValidateExtraArgs([]string{"-map", "0:v"}))
	})

	t.Run("Disallowed character (semicolon)", func(t *testing.T) {
		args, _ := SplitCommand(`-crf 23; ls`)
		err := ValidateExtraArgs(args)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "disallowed character found in argument: 23;")
	})

	t.Run("Disallowed character (dollar)", func(t *testing.T) {
		args, _ := SplitCommand(`-metadata "title=$(whoami)"`)
		err := ValidateExtraArgs(args)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "disallowed character found in argument: title=$(whoami)")
	})
}
