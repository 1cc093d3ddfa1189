package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/freshkeeper/internal/client/api"
	"github.com/dmitrijs2005/freshkeeper/internal/client/config"
	"github.com/dmitrijs2005/freshkeeper/internal/client/session"
	"github.com/spf13/cobra"
)

// Execute runs the CLI with args and releases the session store afterwards.
func Execute(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	root, app := newRootCommand(in, out)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return errors.Join(err, app.close())
}

func newRootCommand(in io.Reader, out io.Writer) (*cobra.Command, *App) {
	app := newApp(in, out)

	var (
		configPath string
		server     string
		stateDir   string
		timeout    time.Duration
	)

	root := &cobra.Command{
		Use:           "freshkeeper",
		Short:         "Keep track of food and when it expires",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath, os.LookupEnv)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("server") {
				cfg.ServerURL = server
			}
			if flags.Changed("state-dir") {
				cfg.StateDir = stateDir
			}
			if flags.Changed("timeout") {
				cfg.Timeout = timeout
			}
			return app.open(cmd.Context(), cfg)
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(out)

	pf := root.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "JSON config file")
	pf.StringVarP(&server, "server", "s", "", "server base URL")
	pf.StringVar(&stateDir, "state-dir", "", "directory for the local session")
	pf.DurationVar(&timeout, "timeout", 0, "HTTP timeout")

	root.AddCommand(
		app.registerCmd(),
		app.loginCmd(),
		app.logoutCmd(),
		app.listCmd(),
		app.addCmd(),
		app.deleteCmd(),
		app.recognizeCmd(),
		app.passwdCmd(),
		app.secretCmd(),
	)
	return root, app
}

func (a *App) registerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register [username]",
		Short: "Create an account",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username, err := a.prompt(firstArg(args), "Username")
			if err != nil {
				return err
			}
			password, err := GetPassword(a.out, "Password")
			if err != nil {
				return err
			}

			u, err := a.client.Register(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Registered %s (id %d). Run 'freshkeeper login' to sign in.\n", u.Username, u.ID)
			return nil
		},
	}
}

func (a *App) loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login [username]",
		Short: "Sign in and remember the session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username, err := a.prompt(firstArg(args), "Username")
			if err != nil {
				return err
			}
			password, err := GetPassword(a.out, "Password")
			if err != nil {
				return err
			}

			res, err := a.client.Login(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			sess := &session.Session{
				UserID:       res.ID,
				Username:     res.Username,
				AccessToken:  res.AccessToken,
				RefreshToken: res.RefreshToken,
			}
			if err := a.store.Save(cmd.Context(), sess); err != nil {
				return err
			}
			a.sess = sess
			fmt.Fprintf(a.out, "Logged in as %s.\n", res.Username)
			return nil
		},
	}
}

func (a *App) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.store.Clear(cmd.Context()); err != nil {
				return err
			}
			a.sess = nil
			fmt.Fprintln(a.out, "Logged out.")
			return nil
		},
	}
}

func (a *App) listCmd() *cobra.Command {
	var (
		expired bool
		search  string
	)
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List food items, soonest to expire first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := a.requireLogin()
			if err != nil {
				return err
			}

			var foods []api.Food
			switch {
			case expired:
				foods, err = a.client.ListExpired(cmd.Context(), sess.UserID)
			case search != "":
				foods, err = a.client.Search(cmd.Context(), sess.UserID, search)
			default:
				foods, err = a.client.ListFoods(cmd.Context(), sess.UserID)
			}
			if err != nil {
				return err
			}
			return printFoods(a.out, foods)
		},
	}
	cmd.Flags().BoolVar(&expired, "expired", false, "only expired items")
	cmd.Flags().StringVar(&search, "search", "", "case-insensitive name filter")
	cmd.MarkFlagsMutuallyExclusive("expired", "search")
	return cmd
}

func printFoods(w io.Writer, foods []api.Food) error {
	if len(foods) == 0 {
		_, err := fmt.Fprintln(w, "No food items.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tLABEL\tEXPIRES\tDAYS LEFT\tSTATUS")
	for _, f := range foods {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\n", f.ID, f.Name, f.Label, f.ExpirationDate, f.DaysLeft, f.Status)
	}
	return tw.Flush()
}

func (a *App) addCmd() *cobra.Command {
	var name, date, shelfLife, label, imagePath string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a food item; missing fields are recognized from --image or prompted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := a.requireLogin()
			if err != nil {
				return err
			}

			var image []byte
			if imagePath != "" {
				if image, err = os.ReadFile(imagePath); err != nil {
					return err
				}
				if name == "" || date == "" || shelfLife == "" {
					a.fillFromPhoto(cmd.Context(), sess.UserID, image, filepath.Base(imagePath), &name, &date, &shelfLife)
				}
			}

			if name, err = a.prompt(name, "Name"); err != nil {
				return err
			}
			if date, err = a.prompt(date, "Production date (YYYY-MM-DD)"); err != nil {
				return err
			}
			if shelfLife, err = a.prompt(shelfLife, "Shelf life (days)"); err != nil {
				return err
			}
			days, err := strconv.Atoi(shelfLife)
			if err != nil || days < 0 {
				return fmt.Errorf("shelf life must be a whole number of days, got %q", shelfLife)
			}

			f, err := a.client.AddFood(cmd.Context(), sess.UserID, api.NewFood{
				Name:           name,
				ProductionDate: date,
				ShelfLife:      days,
				Label:          label,
				Image:          image,
				ImageName:      filepath.Base(imagePath),
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Added %s (id %d), expires %s, %d days left.\n", f.Name, f.ID, f.ExpirationDate, f.DaysLeft)
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&name, "name", "n", "", "food name")
	fl.StringVarP(&date, "date", "d", "", "production date, YYYY-MM-DD")
	fl.StringVarP(&shelfLife, "shelf-life", "l", "", "shelf life in days")
	fl.StringVar(&label, "label", "", "optional label")
	fl.StringVarP(&imagePath, "image", "i", "", "package photo to attach")
	return cmd
}

// fillFromPhoto sets whichever of the empty fields the recognizer could
// read. Failures only leave the fields for the prompt.
func (a *App) fillFromPhoto(ctx context.Context, userID int64, image []byte, filename string, name, date, shelfLife *string) {
	rec, err := a.client.Recognize(ctx, userID, image, filename)
	if err != nil {
		fmt.Fprintf(a.out, "Recognition failed: %v\n", err)
		return
	}
	if *name == "" && rec.Name != nil {
		*name = *rec.Name
	}
	if *date == "" && rec.ProductionDate != nil {
		*date = *rec.ProductionDate
	}
	if *shelfLife == "" && rec.ShelfLife != nil {
		*shelfLife = strconv.Itoa(*rec.ShelfLife)
	}
}

func (a *App) deleteCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete an item by id, or every item with --name",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.requireLogin()
			if err != nil {
				return err
			}

			if name != "" {
				if len(args) > 0 {
					return errors.New("give either an id or --name, not both")
				}
				if err := a.client.DeleteByName(cmd.Context(), sess.UserID, name); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Deleted all items named %q.\n", name)
				return nil
			}

			if len(args) == 0 {
				return errors.New("an item id or --name is required")
			}
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q", args[0])
			}
			if err := a.client.DeleteFood(cmd.Context(), sess.UserID, id); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Deleted item %d.\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "delete every item with this exact name")
	return cmd
}

func (a *App) recognizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recognize <image>",
		Short: "Read name, production date and shelf life from a package photo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			image, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var userID int64
			if a.sess != nil {
				userID = a.sess.UserID
			}

			rec, err := a.client.Recognize(cmd.Context(), userID, image, filepath.Base(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Name:            %s\n", orUnknown(rec.Name))
			fmt.Fprintf(a.out, "Production date: %s\n", orUnknown(rec.ProductionDate))
			shelf := "unknown"
			if rec.ShelfLife != nil {
				shelf = strconv.Itoa(*rec.ShelfLife) + " days"
			}
			fmt.Fprintf(a.out, "Shelf life:      %s\n", shelf)
			return nil
		},
	}
}

func (a *App) passwdCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "passwd",
		Short: "Change your password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := a.requireLogin()
			if err != nil {
				return err
			}
			pw, err := GetPassword(a.out, "New password")
			if err != nil {
				return err
			}
			again, err := GetPassword(a.out, "Repeat new password")
			if err != nil {
				return err
			}
			if pw != again {
				return errors.New("passwords do not match")
			}

			if err := a.client.ChangePassword(cmd.Context(), sess.UserID, pw); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Password changed.")
			return nil
		},
	}
}

func (a *App) secretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "secret <provider>",
		Short: "Store your own API key for a recognition provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.requireLogin()
			if err != nil {
				return err
			}
			key, err := GetPassword(a.out, "API key")
			if err != nil {
				return err
			}

			if err := a.client.AddSecretKey(cmd.Context(), sess.UserID, args[0], key); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Key for %s saved.\n", args[0])
			return nil
		},
	}
}

func firstArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}

func orUnknown(s *string) string {
	if s == nil {
		return "unknown"
	}
	return *s
}
