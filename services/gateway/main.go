// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/awnumar/memguard"
	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/chatgate/pkg/logging"
	"github.com/AleutianAI/chatgate/services/gateway/config"
	"github.com/AleutianAI/chatgate/services/gateway/datatypes"
	"github.com/AleutianAI/chatgate/services/gateway/flow"
	"github.com/AleutianAI/chatgate/services/gateway/handlers"
	"github.com/AleutianAI/chatgate/services/gateway/history"
	"github.com/AleutianAI/chatgate/services/gateway/llm"
	"github.com/AleutianAI/chatgate/services/gateway/middleware"
	"github.com/AleutianAI/chatgate/services/gateway/observability"
	"github.com/AleutianAI/chatgate/services/gateway/routes"
	"github.com/AleutianAI/chatgate/services/gateway/stream"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
)

func initTracer(otelEndpoint string) (func(context.Context), error) {
	ctx := context.Background()

	if otelEndpoint == "" {
		otelEndpoint = "aleutian-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("gateway-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// newWeaviateClient connects to the document store, tolerating a missing
// or invalid URL by returning nil (history endpoints then report the
// store as unconfigured).
func newWeaviateClient(rawURL string) *weaviate.Client {
	if rawURL == "" || !strings.Contains(rawURL, "http") {
		slog.Info("WEAVIATE_SERVICE_URL not set or empty. Chat history is disabled.")
		return nil
	}
	parsedURL, err := url.Parse(rawURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		slog.Warn("WEAVIATE_SERVICE_URL is invalid. Chat history is disabled.",
			"url", rawURL, "error", err)
		return nil
	}
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		slog.Error("Failed to create Weaviate client", "error", err)
		return nil
	}
	return client
}

func main() {
	// Wipe mlocked buffers on SIGINT/SIGTERM before the process dies.
	memguard.CatchInterrupt()
	defer handlers.PurgeAllSecureMemory()

	settings, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid gateway configuration: %v", err)
	}

	_, logCloser, err := logging.Setup(logging.Config{
		LogDir:  settings.LogDir,
		Service: "gateway",
	})
	if err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	// --- Init the tracer ---
	cleanup, err := initTracer(settings.OTELEndpoint)
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	observability.InitMetrics()

	// The readiness gate opens once the schema check completes; history
	// requests arriving earlier block instead of racing the migration.
	gate := history.NewGate()
	weaviateClient := newWeaviateClient(settings.WeaviateServiceURL)

	var store history.ConversationStore
	if weaviateClient != nil {
		s := history.NewStore(weaviateClient)
		store = s
		go func() {
			if err := datatypes.EnsureWeaviateSchema(weaviateClient); err != nil {
				slog.Error("Failed to ensure history schema", "error", err)
			}
			gate.MarkReady()
		}()
	} else {
		gate.MarkReady()
	}

	tools, err := config.LoadToolDefinitions(settings.ToolDefinitionsFile)
	if err != nil {
		log.Fatalf("Failed to load tool definitions: %v", err)
	}

	var llmClient llm.Client
	if settings.Model != "" {
		llmClient, err = llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:          settings.APIKey,
			Model:           settings.Model,
			AzureEndpoint:   settings.AzureOpenAIEndpoint,
			AzureAPIVersion: settings.AzureOpenAIAPIVersion,
			SystemMessage:   settings.SystemMessage,
			Tools:           tools,
		})
		if err != nil {
			log.Fatalf("Failed to initialize LLM client: %v", err)
		}
	}

	var flowClient *flow.Client
	if settings.UseFlowBackend {
		flowClient = flow.NewClient(flow.Config{
			Endpoint:      settings.FlowEndpoint,
			APIKey:        settings.FlowAPIKey,
			RequestField:  settings.FlowRequestField,
			ResponseField: settings.FlowResponseField,
			Timeout:       settings.FlowResponseTimeout,
		})
		slog.Info("Using flow backend", "endpoint", settings.FlowEndpoint)
	}

	dispatcher := stream.NewRemoteDispatcher(stream.RemoteDispatcherConfig{
		BaseURL: settings.ToolBaseURL,
		Key:     settings.ToolKey,
		Timeout: settings.ToolResponseTimeout,
		Enabled: settings.ToolEnabled,
	})

	conversation := handlers.NewConversationHandler(settings, llmClient, flowClient, dispatcher)
	historyHandler := handlers.NewHistoryHandler(store, gate, llmClient, conversation)
	frontend := handlers.NewFrontendHandler(settings)

	router := gin.Default()
	router.Use(otelgin.Middleware("gateway-service"))
	router.Use(middleware.Auth(settings.AuthEnabled))

	routes.SetupRoutes(router, conversation, historyHandler, frontend)

	log.Println("Starting the gateway server on port ", settings.Port)
	if err := router.Run(":" + settings.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
