package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"uspacecal/internal/ics"
	appLog "uspacecal/internal/log"
)

var (
	listSemester string
	countEvents  bool
)

var semestersCmd = &cobra.Command{
	Use:   "semesters",
	Short: "List the semesters available to the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		sess, err := a.sessions.Validate(cmd.Context())
		if err != nil {
			return err
		}
		for _, s := range sess.Semesters {
			fmt.Fprintln(cmd.OutOrStdout(), s)
		}
		return nil
	},
}

var coursesCmd = &cobra.Command{
	Use:   "courses",
	Short: "List the registrations of a semester",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		sess, err := a.sessions.Current()
		if err != nil {
			return err
		}
		semester, err := a.semesterOrLatest(listSemester, sess)
		if err != nil {
			return err
		}

		courses, err := a.directory.Courses(cmd.Context(), sess, semester)
		if err != nil {
			return err
		}
		if len(courses) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No courses found for %s\n", semester)
			return nil
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		header := "ID\tTYPE\tTITLE\tTEACHERS"
		if countEvents {
			header += "\tEVENTS"
		}
		fmt.Fprintln(tw, header)
		for _, c := range courses {
			row := fmt.Sprintf("%s\t%s\t%s\t%s", orDash(c.ID), orDash(c.Category), c.Title, orDash(strings.Join(c.Instructors, ", ")))
			if countEvents {
				row += "\t" + eventCount(cmd, a, c.ID, semester)
			}
			fmt.Fprintln(tw, row)
		}
		return tw.Flush()
	},
}

func eventCount(cmd *cobra.Command, a *app, courseID, semester string) string {
	if courseID == "" {
		return "-"
	}
	body, err := a.fetcher.Fetch(cmd.Context(), courseID, semester)
	if err != nil {
		appLog.Warn("feed unavailable", "course_id", courseID, "err", err)
		return "?"
	}
	return fmt.Sprint(ics.CountEvents(body))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	coursesCmd.Flags().StringVar(&listSemester, "semester", "", "Semester token, e.g. 2024W (default: config or latest)")
	coursesCmd.Flags().BoolVar(&countEvents, "events", false, "Fetch each feed and count its events")

	rootCmd.AddCommand(semestersCmd, coursesCmd)
}
