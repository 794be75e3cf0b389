package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"flac2mp3/internal/config"
)

// Markers recognised by the codec stubs. Decode markers are matched against
// the input file's base name; encode markers against the decoded content or tags.
const (
	// MarkerDecodeFail in an input name makes the flac stub exit 1.
	MarkerDecodeFail = "fail-decode"
	// MarkerBlock in an input name makes the flac stub sleep until killed.
	MarkerBlock = "block"
	// MarkerEndless in an input name makes the flac stub stream forever; it
	// only exits via SIGPIPE or a signal.
	MarkerEndless = "endless"
	// MarkerTagsFail in an input name makes the metaflac stub print a partial
	// listing (TITLE=Partial) and exit 1.
	MarkerTagsFail = "fail-tags"
	// MarkerEncodeFail in file content makes the lame stub exit 2 after
	// consuming its input.
	MarkerEncodeFail = "FAIL-ENCODE"
	// MarkerEncodeExitEarly as a TITLE tag makes the lame stub exit 3 without
	// reading stdin.
	MarkerEncodeExitEarly = "EXIT-EARLY"
)

// EnvStubPIDs names a file the flac and lame stubs append "<tool> <pid>"
// lines to when set.
const EnvStubPIDs = "FLAC2MP3_STUB_PIDS"

const flacStub = `# flac --silent --stdout --decode <input>
if [ -n "$` + EnvStubPIDs + `" ]; then
  echo "flac $$" >> "$` + EnvStubPIDs + `"
fi
for last; do :; done
case "${last##*/}" in
  *` + MarkerDecodeFail + `*) echo "flac: decode error" >&2; exit 1 ;;
  *` + MarkerBlock + `*) exec sleep 300 ;;
  *` + MarkerEndless + `*) exec yes flac ;;
esac
exec cat "$last"
`

const lameStub = `# lame <options> --add-id3v2 --silent --tt ... - -
if [ -n "$` + EnvStubPIDs + `" ]; then
  echo "lame $$" >> "$` + EnvStubPIDs + `"
fi
if [ -n "$FLAC2MP3_STUB_LAME_ARGS" ]; then
  printf '%s\n' "$@" > "$FLAC2MP3_STUB_LAME_ARGS"
fi
case "$*" in
  *` + MarkerEncodeExitEarly + `*) echo "lame: refusing input" >&2; exit 3 ;;
esac
data=$(cat)
case "$data" in
  *` + MarkerEncodeFail + `*) echo "lame: encode error" >&2; exit 2 ;;
esac
printf 'ID3 %s\n%s\n' "$*" "$data"
`

const metaflacStub = `# metaflac --list --block-type=VORBIS_COMMENT <input>
for last; do :; done
case "${last##*/}" in
  *` + MarkerTagsFail + `*) echo "    comment[0]: TITLE=Partial"; echo "metaflac: warning" >&2; exit 1 ;;
esac
echo "METADATA block #2"
echo "  type: 4 (VORBIS_COMMENT)"
echo "  is last: false"
echo "  vendor string: reference libFLAC 1.4.3 20230623"
if [ -f "$last.tags" ]; then
  i=0
  while IFS= read -r line; do
    printf '    comment[%d]: %s\n' "$i" "$line"
    i=$((i+1))
  done < "$last.tags"
fi
exit 0
`

const fileStub = `# file -b --mime-type <path>
for last; do :; done
case "$last" in
  *.flac) echo "audio/flac" ;;
  *.jpg) echo "image/jpeg" ;;
  *) echo "text/plain" ;;
esac
`

// WriteStub writes an executable /bin/sh script named name into dir and
// returns its path.
func WriteStub(t testing.TB, dir, name, body string) string {
	t.Helper()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir stub dir: %v", err)
	}
	target := filepath.Join(dir, name)
	if err := os.WriteFile(target, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write stub %s: %v", name, err)
	}
	return target
}

// InstallCodecStubs writes scripted stand-ins for flac, lame, metaflac, and
// file into dir. The flac stub emits the input file's bytes as "audio", the
// lame stub prefixes them with its argument list, and metaflac reports the
// KEY=VALUE lines of an optional "<input>.tags" sidecar.
func InstallCodecStubs(t testing.TB, dir string) config.Tools {
	t.Helper()

	return config.Tools{
		Flac:     WriteStub(t, dir, "flac", flacStub),
		Lame:     WriteStub(t, dir, "lame", lameStub),
		Metaflac: WriteStub(t, dir, "metaflac", metaflacStub),
		File:     WriteStub(t, dir, "file", fileStub),
	}
}

// WriteFLAC writes a fake source file whose decoded "audio" is content, plus a
// tags sidecar when tags is non-empty (one KEY=VALUE per entry).
func WriteFLAC(t testing.TB, path, content string, tags ...string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	if len(tags) == 0 {
		return
	}
	var sidecar []byte
	for _, tag := range tags {
		sidecar = append(sidecar, tag...)
		sidecar = append(sidecar, '\n')
	}
	if err := os.WriteFile(path+".tags", sidecar, 0o644); err != nil {
		t.Fatalf("write tags for %s: %v", path, err)
	}
}
