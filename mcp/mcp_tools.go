package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"microtask-backend/core/marketplace"
)

// registerListTasksTool creates a tool for listing open tasks
func (s *MCPServer) registerListTasksTool() {
	tool := mcp.NewTool("list_tasks",
		mcp.WithDescription("List marketplace tasks with optional filtering"),
		mcp.WithString("buyer_email", mcp.Description("Filter by the buyer who posted the task")),
		mcp.WithBoolean("open_only", mcp.Description("Only return tasks with remaining capacity")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()

		filter := marketplace.TaskFilter{
			BuyerEmail: toString(args["buyer_email"]),
			OpenOnly:   toBool(args["open_only"]),
		}

		tasks, err := s.store.ListTasks(ctx, filter)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to list tasks: %v", err)), nil
		}

		result := map[string]interface{}{
			"tasks":       tasks,
			"total_count": len(tasks),
		}

		return mcp.NewToolResultText(fmt.Sprintf("Found %d tasks:\n\n%+v", len(tasks), result)), nil
	})
}

// registerGetTaskTool creates a tool for getting a specific task
func (s *MCPServer) registerGetTaskTool() {
	tool := mcp.NewTool("get_task",
		mcp.WithDescription("Get details of a specific task"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("ID of task to retrieve")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := request.RequireString("task_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		task, err := s.store.GetTask(ctx, taskID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to get task: %v", err)), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf("Task details:\n\n%+v", task)), nil
	})
}

// registerListSubmissionsTool creates a tool for listing submissions
func (s *MCPServer) registerListSubmissionsTool() {
	tool := mcp.NewTool("list_submissions",
		mcp.WithDescription("List submissions with optional filtering"),
		mcp.WithString("task_id", mcp.Description("Filter by task ID")),
		mcp.WithString("worker_email", mcp.Description("Filter by worker email")),
		mcp.WithString("status", mcp.Description("Filter by status: pending, approved or rejected")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of submissions to return")),
		mcp.WithNumber("offset", mcp.Description("Number of submissions to skip")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()

		filter := marketplace.SubmissionFilter{
			TaskID:      toString(args["task_id"]),
			WorkerEmail: toString(args["worker_email"]),
			Status:      toString(args["status"]),
			Limit:       int(toInt64(args["limit"])),
			Offset:      int(toInt64(args["offset"])),
		}

		subs, total, err := s.store.ListSubmissions(ctx, filter)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to list submissions: %v", err)), nil
		}

		result := map[string]interface{}{
			"submissions": subs,
			"total":       total,
		}

		return mcp.NewToolResultText(fmt.Sprintf("Found %d submissions:\n\n%+v", total, result)), nil
	})
}

// registerGetSubmissionTool creates a tool for getting a specific submission
func (s *MCPServer) registerGetSubmissionTool() {
	tool := mcp.NewTool("get_submission",
		mcp.WithDescription("Get details of a specific submission"),
		mcp.WithString("submission_id", mcp.Required(), mcp.Description("ID of submission to retrieve")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		submissionID, err := request.RequireString("submission_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		sub, err := s.store.GetSubmission(ctx, submissionID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to get submission: %v", err)), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf("Submission details:\n\n%+v", sub)), nil
	})
}

// registerPlatformStatsTool creates a tool for the public platform counters
func (s *MCPServer) registerPlatformStatsTool() {
	tool := mcp.NewTool("platform_stats",
		mcp.WithDescription("Get platform-wide counters: users, tasks, coins, completed tasks"),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		stats, err := s.store.PlatformStats(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to get stats: %v", err)), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf("Platform stats:\n\n%+v", stats)), nil
	})
}

// registerTopWorkersTool creates a tool for the worker leaderboard
func (s *MCPServer) registerTopWorkersTool() {
	tool := mcp.NewTool("top_workers",
		mcp.WithDescription("List the workers with the highest coin balances"),
		mcp.WithNumber("limit", mcp.Description("Maximum number of workers to return")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()

		limit := int(toInt64(args["limit"]))
		if limit <= 0 {
			limit = 6
		}

		workers, err := s.store.TopWorkers(ctx, limit)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to list workers: %v", err)), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf("Found %d workers:\n\n%+v", len(workers), workers)), nil
	})
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func toBool(v interface{}) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return false
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int:
		return int64(n)
	case int64:
		return n
	}
	return 0
}
