// Package transcription implements the workers that turn uploaded audio into
// transcripts.
//
// AudioStage consumes whole-file jobs from the audio_input stream and walks a
// session through analyzing_audio, processing_audio and saving_transcript
// before marking it completed. ChunkStage consumes streaming chunks, stores a
// transcript per chunk sequence, and finalizes the session once the last
// chunk is known and every earlier sequence has been transcribed. Both
// stages queue an automatic medical extraction on completion.
package transcription
