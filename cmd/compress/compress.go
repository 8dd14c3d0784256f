package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"media-compressor/internal/compression"
	"media-compressor/internal/mediatypes"
	"media-compressor/internal/options"
	"media-compressor/internal/progress"
)

// stdoutName selects standard output as the destination.
const stdoutName = "-"

// optionFlag binds a command-line flag to an option field. Values are passed
// through as strings so they are normalized exactly like form fields.
type optionFlag struct {
	flag, field, usage string
}

var optionFlags = map[mediatypes.Kind][]optionFlag{
	mediatypes.KindImage: {
		{"format", options.FieldFormat, "output format: jpeg, png, webp or avif"},
		{"quality", options.FieldQuality, "encoder quality 1-100"},
		{"max-width", options.FieldMaxWidth, "bounding box width in pixels"},
		{"max-height", options.FieldMaxHeight, "bounding box height in pixels"},
	},
	mediatypes.KindVideo: {
		{"video-bitrate", options.FieldVideoBitrate, "target video bitrate, e.g. 1000k"},
		{"audio-bitrate", options.FieldAudioBitrate, "target audio bitrate, e.g. 128k"},
		{"max-width", options.FieldMaxWidth, "bounding box width in pixels"},
		{"max-height", options.FieldMaxHeight, "bounding box height in pixels"},
	},
}

// addOptionFlags registers the option flags of kinds on cmd once each.
func addOptionFlags(cmd *cobra.Command, kinds ...mediatypes.Kind) {
	for _, kind := range kinds {
		for _, o := range optionFlags[kind] {
			if cmd.Flags().Lookup(o.flag) == nil {
				cmd.Flags().String(o.flag, "", o.usage)
			}
		}
	}
}

// rawOptions collects the changed option flags that apply to kind.
func rawOptions(cmd *cobra.Command, kind mediatypes.Kind) options.Raw {
	raw := options.Raw{}
	for _, o := range optionFlags[kind] {
		if flag := cmd.Flags().Lookup(o.flag); flag != nil && flag.Changed {
			raw[o.field] = flag.Value.String()
		}
	}
	return raw
}

func newImageCmd(g *globalOptions) *cobra.Command {
	return newCompressCmd(g, mediatypes.KindImage, &cobra.Command{
		Use:   "image <file>",
		Short: "Compress an image",
		Long: `Re-encode an image, optionally shrinking it to fit a bounding box.

The result is written next to the input as compressed-<name>.<ext> unless
--output is given. Use --output - to write it to stdout.

Examples:
  compress image photo.jpg
  compress image photo.jpg --format webp --quality 60
  compress image photo.heic --max-width 1024 --max-height 1024 -o thumb.jpg`,
	})
}

func newVideoCmd(g *globalOptions) *cobra.Command {
	return newCompressCmd(g, mediatypes.KindVideo, &cobra.Command{
		Use:   "video <file>",
		Short: "Compress a video to H.264/AAC MP4",
		Long: `Re-encode a video with ffmpeg, optionally shrinking it to fit a
bounding box. Progress follows the encoder's position in the input.

Examples:
  compress video clip.mov
  compress video clip.mkv --video-bitrate 600k --audio-bitrate 96k
  compress video clip.mp4 --max-height 720 -o clip-720p.mp4`,
	})
}

// compressFlags holds the per-command flags.
type compressFlags struct {
	output string
	jobID  string
}

func newCompressCmd(g *globalOptions, kind mediatypes.Kind, cmd *cobra.Command) *cobra.Command {
	f := &compressFlags{}
	cmd.Args = cobra.ExactArgs(1)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runCompress(cmd, g, f, kind, args[0], rawOptions(cmd, kind))
	}

	cmd.Flags().StringVarP(&f.output, "output", "o", "", "output path, or - for stdout")
	cmd.Flags().StringVar(&f.jobID, "job-id", "", "job ID to use in logs (UUID, generated when empty)")
	addOptionFlags(cmd, kind)
	return cmd
}

func runCompress(cmd *cobra.Command, g *globalOptions, f *compressFlags, kind mediatypes.Kind, inputPath string, raw options.Raw) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	jobID := f.jobID
	if jobID == "" {
		jobID = uuid.NewString()
	} else if _, err := uuid.Parse(jobID); err != nil {
		return fmt.Errorf("invalid job ID %q: %w", jobID, err)
	}

	in, err := os.Open(inputPath)
	if err != nil {
		return err
	}
	defer in.Close()

	p, err := g.newPipeline(1)
	if err != nil {
		return err
	}
	defer p.Close()

	// Progress shares stdout with the result only when the result goes
	// elsewhere.
	toStdout := f.output == stdoutName
	status := cmd.OutOrStdout()
	if toStdout {
		status = cmd.ErrOrStderr()
	}

	ch := progress.NewChannel(jobID)
	rendered := make(chan struct{})
	if g.quiet || toStdout {
		close(rendered)
	} else {
		go func() {
			defer close(rendered)
			newRenderer(status).Run(ch.Subscribe(ctx))
		}()
	}

	res, err := p.controller.Compress(ctx, compression.Request{
		JobID:    jobID,
		Kind:     kind,
		Name:     filepath.Base(inputPath),
		Input:    in,
		Options:  raw,
		Progress: ch,
	})
	if err != nil {
		<-rendered
		var ce *compression.Error
		if errors.As(err, &ce) {
			return errors.New(ce.UserMessage())
		}
		return err
	}

	outputPath := f.output
	if outputPath == "" {
		outputPath = filepath.Join(filepath.Dir(inputPath), res.Filename)
	}

	if err := writeResult(cmd.OutOrStdout(), outputPath, res, ch); err != nil {
		ch.Fail(errors.New("result delivery failed"))
		<-rendered
		return err
	}
	<-rendered

	if toStdout {
		return nil
	}
	fmt.Fprintf(status, "%s -> %s (%s)\n", inputPath, outputPath, summarize(res.InputSize, res.Size()))
	return nil
}

// writeResult copies the artifact to path (or stdout for "-") through a
// transfer driver so the job's progress advances while bytes land.
func writeResult(stdout io.Writer, path string, res *compression.Result, r progress.Reporter) error {
	driver := progress.NewTransferDriver(r, res.Size())

	var dst io.Writer = stdout
	var file *os.File
	if path != stdoutName {
		var err error
		file, err = os.Create(path)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		dst = file
	}

	_, err := io.Copy(io.MultiWriter(dst, driver), bytes.NewReader(res.Data))
	if file != nil {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	driver.Finish()
	return nil
}

// summarize describes the size change, e.g. "2.4 MB to 310 kB, 87% smaller".
func summarize(before, after int64) string {
	line := humanize.Bytes(uint64(max(before, 0))) + " to " + humanize.Bytes(uint64(max(after, 0)))
	if before <= 0 {
		return line
	}
	change := 100 - after*100/before
	switch {
	case change > 0:
		return fmt.Sprintf("%s, %d%% smaller", line, change)
	case change < 0:
		return fmt.Sprintf("%s, %d%% larger", line, -change)
	default:
		return line + ", unchanged"
	}
}
