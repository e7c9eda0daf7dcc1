package controllers

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("github.com/amaumene/reclaimarr/internal/controllers")
