package commands

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/callbridge/internal/audio"
)

var (
	splitInput    string
	splitCustomer string
	splitAgent    string
	splitLayout   string
	splitChunk    int
	splitVerify   bool
)

var splitCmd = &cobra.Command{
	Use:   "split",
	Short: "Split a stereo PCM recording into per-speaker files",
	Long: `Split interleaved 16-bit little-endian stereo PCM into two mono files,
one per speaker, the same way the live relay does.

Examples:
  callbridge split -i call.raw --customer customer.raw --agent agent.raw
  cat call.raw | callbridge split --customer c.raw --agent a.raw --layout customer-right
  callbridge split -i call.raw --customer c.raw --agent a.raw --verify`,
	RunE: func(cmd *cobra.Command, args []string) error {
		layout, err := audio.ParseChannelLayout(splitLayout)
		if err != nil {
			return err
		}
		if splitVerify && splitInput == "-" {
			return errors.New("--verify needs an input file")
		}

		var in io.Reader = cmd.InOrStdin()
		if splitInput != "-" {
			f, err := os.Open(splitInput)
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}

		customer, closeCustomer, err := createOutput(splitCustomer)
		if err != nil {
			return err
		}
		agent, closeAgent, err := createOutput(splitAgent)
		if err != nil {
			closeCustomer()
			return err
		}

		stats, err := audio.SplitStream(bufio.NewReader(in), customer, agent, layout, splitChunk)
		if cerr := closeCustomer(); err == nil {
			err = cerr
		}
		if cerr := closeAgent(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "chunks=%d customer_bytes=%d agent_bytes=%d dropped_bytes=%d duration=%s\n",
			stats.Chunks, stats.CustomerBytes, stats.AgentBytes, stats.Dropped,
			audio.Linear16Mono16K.Duration(int(stats.CustomerBytes)))

		if splitVerify {
			if err := verifySplit(splitInput, splitCustomer, splitAgent, layout); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "verified: outputs interleave back to the input")
		}
		return nil
	},
}

// verifySplit re-interleaves the outputs and compares them with every whole
// frame of the input.
func verifySplit(input, customerPath, agentPath string, layout audio.ChannelLayout) error {
	stereo, err := os.ReadFile(input)
	if err != nil {
		return err
	}
	customer, err := os.ReadFile(customerPath)
	if err != nil {
		return err
	}
	agent, err := os.ReadFile(agentPath)
	if err != nil {
		return err
	}

	merged, err := layout.Merge(customer, agent)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	whole := stereo[:len(stereo)-len(stereo)%audio.FrameBytes]
	if !bytes.Equal(merged, whole) {
		return fmt.Errorf("verify: outputs do not interleave back to %s", input)
	}
	return nil
}

// createOutput opens path for writing through a buffer. The returned func
// flushes and closes it.
func createOutput(path string) (io.Writer, func() error, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	w := bufio.NewWriter(f)
	return w, func() error {
		if err := w.Flush(); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}, nil
}

func init() {
	splitCmd.Flags().StringVarP(&splitInput, "input", "i", "-", "stereo PCM input file (- for stdin)")
	splitCmd.Flags().StringVar(&splitCustomer, "customer", "", "customer channel output file")
	splitCmd.Flags().StringVar(&splitAgent, "agent", "", "agent channel output file")
	splitCmd.Flags().StringVar(&splitLayout, "layout", string(audio.CustomerLeft), "channel layout (customer-left, customer-right)")
	splitCmd.Flags().IntVar(&splitChunk, "chunk-bytes", audio.DefaultChunkBytes, "read size in bytes")
	splitCmd.Flags().BoolVar(&splitVerify, "verify", false, "check that the outputs interleave back to the input")
	splitCmd.MarkFlagRequired("customer")
	splitCmd.MarkFlagRequired("agent")
}
