package stt

import (
	"testing"

	"cloud.google.com/go/speech/apiv1/speechpb"
)

func TestGetAudioEncoding(t *testing.T) {
	cases := map[string]speechpb.RecognitionConfig_AudioEncoding{
		"WAV":       speechpb.RecognitionConfig_LINEAR16,
		"LINEAR16":  speechpb.RecognitionConfig_LINEAR16,
		"OGG_OPUS":  speechpb.RecognitionConfig_OGG_OPUS,
		"WEBM_OPUS": speechpb.RecognitionConfig_WEBM_OPUS,
		"FLAC":      speechpb.RecognitionConfig_FLAC,
	}

	for in, want := range cases {
		got, err := getAudioEncoding(in)
		if err != nil {
			t.Errorf("getAudioEncoding(%q) returned error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("getAudioEncoding(%q) = %v, want %v", in, got, want)
		}
	}

	if _, err := getAudioEncoding("VORBIS"); err == nil {
		t.Error("expected error for unsupported encoding")
	}
}
