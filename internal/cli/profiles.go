package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"webrag/internal/domain"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List the embedding profiles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		active, _ := GetConfig().Profile()
		for _, p := range domain.Profiles() {
			marker := " "
			if p == active {
				marker = "*"
			}
			asym := "symmetric"
			if p.SupportsAsymmetricEncoding() {
				asym = "asymmetric"
			}
			fmt.Printf("%s %-8s dim=%-4d chunk=%-5d %-10s %s\n", marker, p.Key(), p.Dimension(), p.DefaultChunkSize(), asym, p.ModelIdentifier())
			fmt.Printf("  %s\n", p.Description())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(profilesCmd)
}
