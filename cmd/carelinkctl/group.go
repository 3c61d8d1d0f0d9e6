package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"carelink/internal/services"
)

const groupCreateExample = `  carelinkctl group create --email ann@example.com --password secret1 \
    --name "Ann Smith" --patient "Joe Smith"`

func groupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Manage care groups",
	}

	var in services.SignUp
	create := &cobra.Command{
		Use:     "create",
		Short:   "Create a care group with its first admin",
		Example: groupCreateExample,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openStore()
			if err != nil {
				return err
			}
			defer repo.Close()

			m, err := services.NewCareGroupService(repo, 0).CreateGroup(cmd.Context(), in)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created care group for %s (patient #%d)\n", m.Patient.Name, m.Patient.ID)
			fmt.Fprintf(out, "Admin: %s <%s>\n", m.Caregiver.Name, m.Caregiver.Email)
			fmt.Fprintf(out, "Group code: %s\n", m.Patient.GroupCode)
			return nil
		},
	}
	create.Flags().StringVar(&in.Email, "email", "", "admin email")
	create.Flags().StringVar(&in.Password, "password", "", "admin password")
	create.Flags().StringVar(&in.Name, "name", "", "admin display name")
	create.Flags().StringVar(&in.PatientName, "patient", "", "patient name")
	for _, f := range []string{"email", "password", "name", "patient"} {
		_ = create.MarkFlagRequired(f)
	}

	cmd.AddCommand(create)
	return cmd
}
