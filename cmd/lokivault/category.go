package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forest6511/lokivault/pkg/vault"
)

// Flags for category add
var (
	categoryIcon  string
	categoryColor string
)

func init() {
	rootCmd.AddCommand(categoryCmd)
	rootCmd.AddCommand(tagCmd)

	categoryCmd.AddCommand(categoryListCmd)
	categoryCmd.AddCommand(categoryAddCmd)
	categoryCmd.AddCommand(categoryDeleteCmd)

	tagCmd.AddCommand(tagListCmd)
	tagCmd.AddCommand(tagAddCmd)
	tagCmd.AddCommand(tagDeleteCmd)

	categoryAddCmd.Flags().StringVar(&categoryIcon, "icon", "folder.fill", "Icon name")
	categoryAddCmd.Flags().StringVar(&categoryColor, "color", "gray", "Color name")
}

// categoryCmd is the parent command for category operations
var categoryCmd = &cobra.Command{
	Use:   "category",
	Short: "Category operations",
}

var categoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists categories",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := app.unlock(cmd.Context())
		if err != nil {
			return err
		}
		categories := session.Vault().Categories()
		if len(categories) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No categories")
			return nil
		}
		for _, c := range categories {
			fmt.Fprintf(cmd.OutOrStdout(), "%-8s  %s (%s, %s)\n", shortID(c.ID), c.Name, c.Icon, c.Color)
		}
		return nil
	},
}

var categoryAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Adds a category",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := app.unlock(cmd.Context())
		if err != nil {
			return err
		}
		repo := session.Vault()
		if _, err := findCategory(repo, args[0]); err == nil {
			return fmt.Errorf("category %q already exists", args[0])
		}
		c, err := repo.SaveCategory(cmd.Context(), vault.Category{Name: args[0], Icon: categoryIcon, Color: categoryColor})
		if err != nil {
			return fmt.Errorf("failed to save category: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Category '%s' added (%s)\n", c.Name, shortID(c.ID))
		return nil
	},
}

var categoryDeleteCmd = &cobra.Command{
	Use:   "delete <name|id>",
	Short: "Deletes a category (records keep a dangling reference)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := app.unlock(cmd.Context())
		if err != nil {
			return err
		}
		repo := session.Vault()
		c, err := findCategory(repo, args[0])
		if err != nil {
			return err
		}
		if err := repo.DeleteCategory(cmd.Context(), c.ID); err != nil {
			return fmt.Errorf("failed to delete category: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Category '%s' deleted\n", c.Name)
		return nil
	},
}

// tagCmd is the parent command for tag operations
var tagCmd = &cobra.Command{
	Use:   "tag",
	Short: "Tag operations",
}

var tagListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists tags",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := app.unlock(cmd.Context())
		if err != nil {
			return err
		}
		tags := session.Vault().Tags()
		if len(tags) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No tags")
			return nil
		}
		for _, t := range tags {
			fmt.Fprintf(cmd.OutOrStdout(), "%-8s  %s\n", shortID(t.ID), t.Name)
		}
		return nil
	},
}

var tagAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Adds a tag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := app.unlock(cmd.Context())
		if err != nil {
			return err
		}
		repo := session.Vault()
		if _, err := findTag(repo, args[0]); err == nil {
			return fmt.Errorf("tag %q already exists", args[0])
		}
		t, err := repo.SaveTag(cmd.Context(), vault.Tag{Name: args[0]})
		if err != nil {
			return fmt.Errorf("failed to save tag: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Tag '%s' added (%s)\n", t.Name, shortID(t.ID))
		return nil
	},
}

var tagDeleteCmd = &cobra.Command{
	Use:   "delete <name|id>",
	Short: "Deletes a tag from the tag list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := app.unlock(cmd.Context())
		if err != nil {
			return err
		}
		repo := session.Vault()
		t, err := findTag(repo, args[0])
		if err != nil {
			return err
		}
		if err := repo.DeleteTag(cmd.Context(), t.ID); err != nil {
			return fmt.Errorf("failed to delete tag: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Tag '%s' deleted\n", t.Name)
		return nil
	},
}
