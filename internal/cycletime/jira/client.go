package jira

import (
	"context"
	"fmt"

	"github.com/andygrunwald/go-jira"
	prowjira "sigs.k8s.io/prow/pkg/jira"

	"github.com/petr-muller/jiraflow/internal/flagutil"
)

// Client wraps the prow jira client with the calls cycle time analysis needs
type Client struct {
	jiraClient prowjira.Client
}

// NewClient creates a new JIRA client using the existing flagutil pattern
func NewClient(jiraOptions flagutil.JiraOptions) (*Client, error) {
	jiraClient, err := jiraOptions.Client()
	if err != nil {
		return nil, fmt.Errorf("failed to create JIRA client: %w", err)
	}

	return &Client{
		jiraClient: jiraClient,
	}, nil
}

// SearchWithContext runs a JQL search
func (c *Client) SearchWithContext(ctx context.Context, jql string, options *jira.SearchOptions) ([]jira.Issue, *jira.Response, error) {
	return c.jiraClient.SearchWithContext(ctx, jql, options)
}

// JiraURL returns the base URL of the Jira instance
func (c *Client) JiraURL() string {
	return c.jiraClient.JiraURL()
}

// ValidateJQL validates a JQL query by attempting to execute it with a limit of 1
func (c *Client) ValidateJQL(ctx context.Context, jql string) error {
	options := &jira.SearchOptions{
		MaxResults: 1,
	}

	_, _, err := c.jiraClient.SearchWithContext(ctx, jql, options)
	if err != nil {
		return fmt.Errorf("invalid JQL query: %w", err)
	}

	return nil
}

// Fields lists all fields, system and custom
func (c *Client) Fields(ctx context.Context) ([]jira.Field, error) {
	list, _, err := c.jiraClient.JiraClient().Field.GetListWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list fields: %w", err)
	}
	return list, nil
}

// Statuses lists all workflow statuses
func (c *Client) Statuses(ctx context.Context) ([]jira.Status, error) {
	list, _, err := c.jiraClient.JiraClient().Status.GetAllStatusesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list statuses: %w", err)
	}
	return list, nil
}

// Resolutions lists all resolutions
func (c *Client) Resolutions(ctx context.Context) ([]jira.Resolution, error) {
	list, _, err := c.jiraClient.JiraClient().Resolution.GetListWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list resolutions: %w", err)
	}
	return list, nil
}

// Projects lists all projects visible to the user
func (c *Client) Projects(ctx context.Context) ([]jira.Project, error) {
	list, _, err := c.jiraClient.JiraClient().Project.GetListWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	var projects []jira.Project
	if list != nil {
		for _, p := range *list {
			projects = append(projects, jira.Project{ID: p.ID, Key: p.Key, Name: p.Name})
		}
	}
	return projects, nil
}
