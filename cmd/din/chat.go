package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"din/internal/artifact"
	"din/internal/conversation"
	"din/internal/imagegen"
	"din/internal/llm"
	"din/internal/protocol"
)

var (
	outDir   string
	language string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive planning session",
	Long: `Start an interactive planning session.

Commands inside the session:
  /scenes          list discovered scenes
  /image <n>       render scene n
  /images          render every scene without an image
  /brief [ko|en]   print the final brief split into segments
  /files           list files written under --out
  /reset           start over
  /quit            leave`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&outDir, "out", "din-out", "directory receiving scene images and the final brief")
	chatCmd.Flags().StringVar(&language, "lang", "Korean", "reply language")
}

type repl struct {
	conv   *conversation.Controller
	images *imagegen.Coordinator
	store  *artifact.DiskStore
	out    io.Writer
}

func runChat(cmd *cobra.Command, _ []string) error {
	logger := newLogger()
	defer func() { _ = logger.Sync() }()

	mws := []llm.Middleware{llm.WithLogging(logger), llm.Retry(3, 500*time.Millisecond)}
	var factory llm.Factory
	if fakeMode {
		factory = llm.FakeFactory(llm.NewFakeClient(llm.DemoReplies...), mws...)
	} else {
		factory = llm.GeminiFactory(llm.GeminiConfig{
			APIKey:     resolveAPIKey(),
			ChatModel:  chatModel,
			ImageModel: imageModel,
		}, mws...)
	}

	instruction := protocol.DefaultInstructionOptions()
	instruction.Language = language
	store := artifact.NewDiskStore(outDir)
	conv := conversation.New(conversation.Options{
		SessionID:   "cli-" + uuid.NewString(),
		Factory:     factory,
		Instruction: instruction,
		Artifacts:   store,
		Logger:      logger,
	})
	defer conv.Close()

	ctx := cmd.Context()
	if err := conv.Start(ctx); err != nil {
		return err
	}
	images := imagegen.New(conv, imagegen.Options{Artifacts: store, Logger: logger})
	defer images.Close()

	r := &repl{conv: conv, images: images, store: store, out: cmd.OutOrStdout()}
	for _, m := range conv.Messages() {
		r.printMessage(m)
	}
	return r.loop(ctx, cmd.InOrStdin())
}

func (r *repl) loop(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(r.out, "> ")
		if !sc.Scan() {
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			quit, err := r.command(ctx, line)
			if err != nil {
				fmt.Fprintf(r.out, "! %v\n", err)
			}
			if quit {
				return nil
			}
			continue
		}
		res, err := r.conv.Submit(ctx, line)
		if err != nil {
			fmt.Fprintf(r.out, "! %v\n", err)
			continue
		}
		r.printMessage(res.Message)
		for _, s := range res.NewScenes {
			fmt.Fprintf(r.out, "  + scene %d: %s\n", s.Number, s.Description)
		}
		if res.FinalBrief != nil {
			fmt.Fprintln(r.out, "  * final brief ready (/brief to view, /files to list the export)")
		}
	}
}

func (r *repl) command(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil
	case "/reset":
		if err := r.conv.Reset(ctx); err != nil {
			return false, err
		}
		for _, m := range r.conv.Messages() {
			r.printMessage(m)
		}
	case "/scenes":
		for _, s := range r.conv.Project().Scenes() {
			status := ""
			switch {
			case s.Generating:
				status = " [rendering]"
			case s.ImageRef != "":
				status = " [image]"
			}
			fmt.Fprintf(r.out, "  %d. %s%s\n", s.Number, s.Description, status)
		}
	case "/image":
		if len(fields) < 2 {
			return false, fmt.Errorf("usage: /image <scene number>")
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return false, fmt.Errorf("invalid scene number %q", fields[1])
		}
		id, ok := r.sceneID(n)
		if !ok {
			return false, imagegen.ErrUnknownScene
		}
		if err := r.images.Generate(ctx, id, strings.Join(fields[2:], " ")); err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "  scene %d rendered\n", n)
	case "/images":
		n, err := r.images.GenerateMissing(ctx, 0)
		fmt.Fprintf(r.out, "  %d image(s) rendered\n", n)
		return false, err
	case "/brief":
		lang := "ko"
		if len(fields) > 1 {
			lang = fields[1]
		}
		brief, ok := r.conv.Project().FinalBrief()
		if !ok {
			return false, fmt.Errorf("no final brief yet")
		}
		text, ok := brief.Rendering(lang)
		if !ok {
			return false, fmt.Errorf("unknown language %q", lang)
		}
		for _, seg := range protocol.Segments(text) {
			title := "common"
			if seg.Kind == protocol.SegmentScene {
				title = fmt.Sprintf("scene %d", seg.SceneNumber)
			}
			fmt.Fprintf(r.out, "--- %s ---\n%s\n", title, seg.Text)
		}
	case "/files":
		id := r.conv.SessionID()
		dir, err := r.store.Dir(id)
		if err != nil {
			return false, err
		}
		paths, err := r.store.List(ctx, id)
		if err != nil {
			return false, err
		}
		for _, p := range paths {
			fmt.Fprintf(r.out, "  %s\n", filepath.Join(dir, filepath.FromSlash(p)))
		}
		fmt.Fprintf(r.out, "  %d file(s)\n", len(paths))
	default:
		return false, fmt.Errorf("unknown command %s", fields[0])
	}
	return false, nil
}

func (r *repl) sceneID(n int) (string, bool) {
	for _, s := range r.conv.Project().Scenes() {
		if s.Number == n {
			return s.ID, true
		}
	}
	return "", false
}

func (r *repl) printMessage(m conversation.Message) {
	who := "din"
	switch m.Role {
	case conversation.RoleUser:
		who = "you"
	case conversation.RoleSystem:
		who = "--"
	}
	fmt.Fprintf(r.out, "%s: %s\n", who, m.Text)
	for i, s := range m.Suggestions {
		fmt.Fprintf(r.out, "  [%d] %s\n", i+1, s.Label)
	}
}
